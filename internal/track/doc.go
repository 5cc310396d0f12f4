// Package track folds transfer lifecycle envelopes into per-operation
// progress snapshots. It subscribes to the event dispatcher and answers
// point-in-time queries about every tracked download and upload.
package track
