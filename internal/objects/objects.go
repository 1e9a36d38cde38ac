// Package objects contains the response objects shared by biz and the HTTP handlers.
// To avoid circular dependencies, we put them here.
package objects
