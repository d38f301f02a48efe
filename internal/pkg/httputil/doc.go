// Package httputil provides the JSON response helpers shared by the control
// API and the tracking endpoints.
package httputil
