// Package logging builds the service's structured slog logger from configuration.
package logging
