// Package api handles incoming HTTP requests, request validation and
// response formatting. It adapts HTTP to the image and analysis services
// and maps their errors to status codes without leaking internal details.
package api
