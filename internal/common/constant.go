// Package common contains constants shared by the proxy server, its
// transport layer and the client.
package common

const (
	// ChunkSize is the streaming unit for backend writes and client uploads.
	ChunkSize = 8 * 1024

	// DefaultNamespace is the fixed segment between the base path and the
	// date partition.
	DefaultNamespace = "2109"

	// PartitionLayout renders the date partition (yyyyMMdd).
	PartitionLayout = "20060102"

	// UploadField is the multipart field carrying the encrypted file.
	UploadField = "file"

	// ResponseSuccess and ResponseFailure are the literal upload results.
	ResponseSuccess = "success"
	ResponseFailure = "false"

	// RequestIDHeader correlates client requests with server logs.
	RequestIDHeader = "X-Request-ID"

	// UploadErrorHeader carries the error class of a failed upload.
	UploadErrorHeader = "X-Upload-Error"

	// UploadPathHeader carries the backend path of a stored upload.
	UploadPathHeader = "X-Upload-Path"
)
