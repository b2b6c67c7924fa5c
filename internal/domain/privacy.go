package domain

// ContentEncryptor provides symmetric encryption for clinical notes and
// session histories at rest.
type ContentEncryptor interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
	IsEncrypted(s string) bool
}
