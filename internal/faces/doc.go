// Package faces builds the template roster that live frames are matched
// against.
//
// Face detection and feature encoding are external capabilities behind the
// Detector and Encoder interfaces; Client implements both against an HTTP
// face service. Store loads one template per roster photo, using the
// largest detected face, and publishes the roster as an immutable Snapshot
// that is swapped atomically on reload.
package faces
