package backup

import "context"

// Encryptor post-processes a finished artifact and returns the path of the
// encrypted file. Implementations may remove the plaintext.
type Encryptor interface {
	Encrypt(ctx context.Context, path string) (string, error)
}

// Uploader ships a finished artifact to remote storage and returns where it
// can be fetched from.
type Uploader interface {
	Upload(ctx context.Context, path string) (string, error)
}
