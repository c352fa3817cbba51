// Package prompt prepares phase prompts from templates.
//
// A template is read from the prompts directory and expanded in two passes.
// Library placeholders ({TAG} or [TAG]) are replaced by values sampled from
// JSON data files. Process placeholders are then resolved against the run:
//
//	{OUTPUT:STAGE:s[:PHASE:p][:FORMAT:f]}  accepted output of an earlier phase
//	{GUIDANCE:TYPE:stage:s} {GUIDANCE:TYPE:generic}
//	{GUIDANCE:PLUGIN:x} {SCHEMA:PLUGIN:x}
//	{BATCH_NAME} {BATCH_ID}
//
// A placeholder that cannot be resolved is replaced by "[Error: reason]" and
// logged; it never fails the prompt.
package prompt
