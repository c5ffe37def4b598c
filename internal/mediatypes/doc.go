// Package mediatypes classifies files in the media directory by extension.
//
// Extensions are compared lowercase with the leading dot (".mkv"). Files
// whose extension is not listed are not media and are skipped by the
// registry scanner.
package mediatypes
