// Package poster renders and caches JPEG poster frames for registered media.
//
// Video posters are a single frame extracted with ffmpeg; image posters are
// the image itself, auto-oriented and fitted to the poster size. Rendered
// posters are written atomically under the poster directory, keyed by the
// source content hash, so an edited file gets a new poster.
package poster
