// elk enriches raw items fetched from issue trackers and code review systems
// into flat documents, and streams them into a search engine through bulk
// requests of bounded size.
//
// The ingest pipeline has three stages. Interfaces and the core
// implementation of each stage live in this package; implementations which
// rely on heavier client libraries are in sub-packages.
//
// 1. Source
//
//    An elk.Source yields raw items one at a time, exactly as the data source
//    backend produced them: a nested map with an origin, a data payload and a
//    handful of metadata fields. Sources exist for local JSON dumps, S3
//    objects, Kafka topics and HTTP posts. It is not the job of the Source to
//    massage the data in any way - that job falls to the Enricher.
//
// 2. Enricher
//
//    An Enricher turns one raw item into one flat EnrichedRecord. There is one
//    Enricher per data source flavor (bugzilla, gerrit). Enrichment is
//    best-effort by contract: fields missing from the raw item come out as
//    null, zero or "unknown" rather than failing the item. When an
//    IdentityResolver is configured, every identity role in the item is
//    resolved to a unique identity and to the organization it was enrolled in
//    at the time of the item. When a ProjectMapper is configured, the item's
//    repository is mapped to a project name.
//
// 3. Uploader
//
//    The Uploader accumulates enriched documents and writes them to the store
//    with one bulk request per MaxItems documents. It must be flushed once
//    after the last document; the Ingester does this for you.
//
// The Ingester drives the three stages over a Source, in order, on a single
// logical sequence.
package elk
