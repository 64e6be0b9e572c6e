package mdbkv

import "github.com/vmihailenco/msgpack/v5"

// Document is the in-memory form of a stored document. Records hold the
// msgpack serialization of a Document; indexes extract key values from
// its fields. The document model proper (schemas, validation, rich
// types) is a collaborator outside this package; Document is the wire
// contract the storage engine needs.
type Document map[string]any

// ParseDocument decodes serialized document bytes.
func ParseDocument(data []byte) (Document, error) {
	var doc Document
	err := msgpack.Unmarshal(data, &doc)
	if err != nil {
		return nil, dataErrf(data, 0, err, "bad document")
	}
	return doc, nil
}

// Marshal returns the document's serialized bytes.
func (d Document) Marshal() ([]byte, error) {
	return msgpack.Marshal(map[string]any(d))
}

// Field returns the named top-level field.
func (d Document) Field(name string) (any, bool) {
	v, ok := d[name]
	return v, ok
}

// DocumentData serializes doc into a value view.
func DocumentData(doc Document) (Data, error) {
	b, err := doc.Marshal()
	if err != nil {
		return nil, err
	}
	return Data(b), nil
}

// Document decodes the view as a serialized document.
func (d Data) Document() (Document, error) {
	return ParseDocument(d)
}
