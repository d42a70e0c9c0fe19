// Package approval implements the human-in-the-loop approval gate. It allows
// selected requests to be paused until an explicit approve or reject decision
// is recorded, or until their deadline expires.
package approval
