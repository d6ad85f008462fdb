// Package catalog holds the check catalog: immutable check and group values
// built once from configuration and handed to the scheduler as read-only
// data. Checks come in two variants — client checks dispatched to remote
// agents over the fanout topic, and serverless checks executed in-process
// under a hard deadline. A Holder allows the catalog to be swapped atomically
// on configuration reload without the consumers noticing.
package catalog
