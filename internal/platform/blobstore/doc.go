// Package blobstore implements store.BlobStore on the local filesystem,
// Amazon S3 (or any S3 compatible endpoint) and Azure Blob Storage.
//
// All backends generate upload keys with store.NewBlobKey and never
// overwrite an existing object when saving an upload: a collision moves on
// to the next numbered key.
package blobstore
