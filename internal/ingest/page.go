// Package ingest turns raw paged payloads from the fetch layer into
// normalized merge batches and runs that work off the serving path.
package ingest

// RawPage is one page of denormalized records as delivered by the external
// fetch layer (already deserialized JSON). Nested entities repeat across
// records and across pages; normalization dedups them.
type RawPage struct {
	Page    int         `json:"page"`
	Total   int         `json:"total"`
	Records []RawRecord `json:"records"`
}

// RawRecord is a denormalized record with nested sub-objects.
type RawRecord struct {
	ID          int64                  `json:"id"`
	Dataset     *RawDataset            `json:"dataset,omitempty"`
	Resource    *RawResource           `json:"resource,omitempty"`
	Tags        []RawTag               `json:"tags,omitempty"`
	Annotations []RawAnnotation        `json:"annotations,omitempty"`
	Inferences  []RawInference         `json:"inferences,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`

	// Foreign keys used when the nested object is absent from the page; the
	// entity resolves to a stub until its own page arrives.
	DatasetID  int64 `json:"dataset_id,omitempty"`
	ResourceID int64 `json:"resource_id,omitempty"`
}

// RawDataset is a nested dataset sub-object.
type RawDataset struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// RawResource is a nested resource sub-object.
type RawResource struct {
	ID  int64  `json:"id"`
	URI string `json:"uri"`
}

// RawTag is a nested tag sub-object.
type RawTag struct {
	ID   int64  `json:"id"`
	Name string `json:"name,omitempty"`
}

// RawAnnotation is a nested annotation sub-object.
type RawAnnotation struct {
	ID       int64        `json:"id"`
	Category *RawCategory `json:"category,omitempty"`
	// CategoryID is used when the nested category is absent.
	CategoryID int64 `json:"category_id,omitempty"`
}

// RawInference is a nested inference sub-object.
type RawInference struct {
	ID         int64        `json:"id"`
	Category   *RawCategory `json:"category,omitempty"`
	CategoryID int64        `json:"category_id,omitempty"`
	Score      float64      `json:"score"`
}

// RawCategory is a nested category sub-object.
type RawCategory struct {
	ID   int64  `json:"id"`
	Name string `json:"name,omitempty"`
}

// RawProjection is one entry of a projection-set payload.
type RawProjection struct {
	ID       int64   `json:"id"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	RecordID int64   `json:"record_id"`
}
