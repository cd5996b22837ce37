// Package domain contains the core entities of the image analysis service:
// uploaded images and the analysis jobs run against them. A job's status only
// moves forward, from processing to either completed or failed.
package domain
