package store

// ChunkThreshold is the value size above which a write transparently spills
// into a head value plus numbered continuation keys. Kept
// small enough that tests can exercise the chunking path without huge
// fixtures.
const ChunkThreshold = 64 * 1024

// MaxChunks bounds how many chunks (the head value plus its continuation
// keys) one logical value may use. 255 chunks at ChunkThreshold bytes each
// is a ~16MiB ceiling,
// comfortably above any single archive or index value this core writes.
const MaxChunks = 255
