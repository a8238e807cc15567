// Package clock supplies the trusted time source used for token expiry
// checks and automation trigger timing.
package clock
