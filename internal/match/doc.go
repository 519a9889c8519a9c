// Package match scores detected faces against the loaded roster.
//
// Engine.Best compares one encoding with every template and accepts the
// highest similarity only when it is strictly above the configured
// threshold. Equal scores resolve to the template loaded first, so the
// decision depends only on the face and the snapshot. Large rosters can
// opt into an HNSW candidate prefilter; candidates are always rescored
// exactly before the decision is made.
package match
