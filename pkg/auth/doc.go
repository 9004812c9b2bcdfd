// Package auth holds the bearer tokens that guard the web console and the
// process API. A token is generated at boot unless the configuration
// fixes one, compared in constant time and masked whenever it is logged.
package auth
