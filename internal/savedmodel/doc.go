// Package savedmodel reads and writes dlnet export directories.
//
// An export is a directory holding a JSON descriptor and the weights:
//
//	<export>/
//	  saved_model.json                  descriptor: tags, graph, signature
//	  variables/variables.safetensors   weights keyed "layer/weight"
//
// The descriptor names exactly one meta graph with exactly one signature.
// The SHA-256 of the variables file is recorded in the descriptor and
// checked on read.
//
// Write stages the whole export in a sibling temporary directory and renames
// it into place, so a failed write never leaves a partial export behind.
package savedmodel
