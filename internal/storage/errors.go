package storage

import "errors"

var (
	// ErrCustomerNotFound indicates no customer exists for the phone or id.
	ErrCustomerNotFound = errors.New("storage: customer not found")
	// ErrProviderNotFound indicates no provider profile exists for the phone.
	ErrProviderNotFound = errors.New("storage: provider not found")
)
