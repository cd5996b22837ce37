// Package pixel provides the decoded in-memory image representation shared by
// every analyzer.
//
// A Buffer stores 8-bit samples interleaved row by row. Colour buffers keep
// three channels in blue, green, red order; grayscale sources keep a single
// channel until an analyzer asks for a colour view with ToBGR. Decoding goes
// through the standard library decoders plus the BMP, TIFF and WebP decoders
// from golang.org/x/image, with EXIF orientation applied.
package pixel
