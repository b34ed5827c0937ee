// Package domain holds the records shared by the publisher, the stores and
// the API layer.
package domain
