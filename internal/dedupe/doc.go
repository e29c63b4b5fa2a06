// Package dedupe suppresses duplicate message delivery across reconnect
// boundaries using a time-bounded cache of seen message ids.
package dedupe
