// Package simpletransfer issues time-limited signed URLs that let clients move
// file bytes directly to and from an S3-compatible object store, and publishes
// every stored object under a short random identifier instead of its real key.
//
// A single Service orchestrates two flows. Single-shot uploads persist a
// MappingRecord and sign one PUT URL. Multipart uploads persist the record,
// open a multipart upload on the object store, sign one URL per part and
// finally complete or abort the upload. Downloads resolve the short id and
// sign a GET URL.
//
// Mapping Durability
//
// The mapping is always written before any signed URL or upload id leaves the
// service, so every object a client can create is resolvable by its short id.
// Records are immutable; stores may be cached freely.
//
// Backends
//
// Mapping stores live under repo/ (memory, Postgres, DynamoDB, and LRU or
// Redis cache decorators). Object gateways live under storage/ (memory, S3 and
// a local filesystem store that serves its own signed URLs).
package simpletransfer
