// Package content defines Packet, the unit of generated content that moves
// through the pipeline, together with the on-disk naming contract
// "{stage}_{phase}_{identifier}.{extension}" that every storage tier keys on.
//
// A packet's content is replaced at each processing step, while its identity
// (file name, extension, plugin, stage, phase) is fixed at construction.
// Reading an identity field that was never set returns a
// *MissingAttributeError instead of an empty string.
package content
