package authsession

import (
	goerrors "github.com/goliatone/go-errors"
)

const (
	textCodeTokenMint         = "TOKEN_MINT_FAILED"
	textCodeAuthentication    = "AUTHENTICATION_FAILED"
	textCodeRecordStore       = "RECORD_STORE_FAILED"
	textCodeInvalidTransition = "INVALID_SESSION_TRANSITION"
)

// ErrTokenMint is returned when the federated-id-to-token exchange fails.
var ErrTokenMint = goerrors.New("token minting failed", goerrors.CategoryOperation).
	WithTextCode(textCodeTokenMint)

// ErrAuthentication is returned when the backend rejects a session token.
var ErrAuthentication = goerrors.New("backend rejected session token", goerrors.CategoryAuth).
	WithTextCode(textCodeAuthentication).
	WithCode(goerrors.CodeUnauthorized)

// ErrRecordStore is returned when record materialization fails after a
// successful authentication. The session stays logged in.
var ErrRecordStore = goerrors.New("user record store failed", goerrors.CategoryInternal).
	WithTextCode(textCodeRecordStore)

// ErrInvalidTransition is returned when a session state change is not allowed.
var ErrInvalidTransition = goerrors.New("invalid session state transition", goerrors.CategoryConflict).
	WithTextCode(textCodeInvalidTransition).
	WithCode(goerrors.CodeConflict)

// IsTokenMintError checks whether err came from the minting exchange.
func IsTokenMintError(err error) bool {
	return hasTextCode(err, textCodeTokenMint)
}

// IsAuthenticationError checks whether the backend rejected the token.
func IsAuthenticationError(err error) bool {
	return hasTextCode(err, textCodeAuthentication)
}

// IsRecordStoreError checks whether materialization failed after auth.
func IsRecordStoreError(err error) bool {
	return hasTextCode(err, textCodeRecordStore)
}

func hasTextCode(err error, code string) bool {
	if err == nil {
		return false
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr.TextCode == code
	}
	return false
}

func wrapTokenMint(err error) error {
	return goerrors.Wrap(err, ErrTokenMint.Category, ErrTokenMint.Message).
		WithTextCode(textCodeTokenMint)
}

func wrapAuthentication(err error) error {
	return goerrors.Wrap(err, ErrAuthentication.Category, ErrAuthentication.Message).
		WithTextCode(textCodeAuthentication)
}

func wrapRecordStore(err error) error {
	return goerrors.Wrap(err, ErrRecordStore.Category, ErrRecordStore.Message).
		WithTextCode(textCodeRecordStore)
}
