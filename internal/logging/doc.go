// Package logging provides a simple leveled logging interface for the
// media vault application.
//
// It supports the following log levels:
//   - DEBUG: Verbose debugging information
//   - INFO: General operational messages
//   - WARN: Warning conditions
//   - ERROR: Error conditions
//   - FATAL: Fatal errors that terminate the application
//
// The log level is configured via the LOG_LEVEL environment variable and the
// output encoding via LOG_FORMAT ("console" or "json"). Messages are written
// through zerolog; components that want structured fields can obtain a
// sub-logger with Component.
package logging
