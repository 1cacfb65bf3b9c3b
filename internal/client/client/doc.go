// Package client talks to the fileproxy server over HTTP.
//
// # Overview
//
// An upload is three steps: fetch the server's public key, encrypt the file
// for it, and post the ciphertext as a multipart form. Two encryption modes
// exist:
//
//  1. direct: the whole file is one RSA block. Only files up to the key's
//     MaxPlaintextSize fit.
//  2. envelope: the file is streamed through an age writer whose recipient
//     is the server's ssh-rsa key, so size is unbounded.
//
// ModeAuto picks direct when the file fits and envelope otherwise.
//
// # Error Handling
//
// Transport failures are wrapped with ErrUnavailable. A "false" answer is
// reported as ErrRejected together with the error class the server sent in
// the X-Upload-Error header, when present.
package client
