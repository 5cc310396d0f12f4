// Package optimistic provides a generic state-transform-with-rollback
// utility: apply a local change immediately, run the confirming action, and
// revert to the pre-update snapshot if the action fails.
package optimistic
