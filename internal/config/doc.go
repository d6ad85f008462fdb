// Package config loads the server-side configuration from the `server:`
// section of config.yaml (the `catalog:` key in the same file is parsed
// separately by package catalog).
//
// Config fields:
//   - HTTPPort     — port for the registration API and agent gateway (default 8080)
//   - Env          — deployment environment name, used to qualify credential
//     session names (default "dev")
//   - Auth.Mode    — "apikey" or "none"
//   - Auth.KeyEnv  — environment variable holding the expected API key
//   - Auth.Header  — HTTP header name to read the key from (default "x-api-key")
//   - Bus          — queue visibility timeout and redelivery backoff bounds
//   - Handlers     — notification handler targets (type + url_env)
//   - Roles        — credential roles (role key + token_env)
//
// Load(path) applies defaults before unmarshalling, then validates. Secrets
// are never stored in the file itself; the file names the environment
// variables that hold them.
package config
