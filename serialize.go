package copus

import (
	"encoding/json"
	"fmt"
	"strings"
)

// DocumentFormatVersion is the current serialized document version.
const DocumentFormatVersion = 1

// SerializedDocument is the JSON form of a document.
type SerializedDocument struct {
	Version    int            `json:"version"`
	DocumentID string         `json:"documentId,omitempty"`
	Root       SerializedNode `json:"root"`
}

// SerializedNode is the JSON form of a node. Only the fields relevant to
// the node's type are set.
type SerializedNode struct {
	Type     string           `json:"type"`
	ID       StableID         `json:"id,omitempty"`
	Text     string           `json:"text,omitempty"`
	Format   TextFormat       `json:"format,omitempty"`
	Tag      string           `json:"tag,omitempty"`
	ListType string           `json:"listType,omitempty"`
	Language string           `json:"language,omitempty"`
	IDs      []string         `json:"ids,omitempty"`
	Source   bool             `json:"source,omitempty"`
	Branch   bool             `json:"branch,omitempty"`
	Children []SerializedNode `json:"children,omitempty"`
}

var kindTypeNames = map[NodeKind]string{
	KindRoot:      "root",
	KindParagraph: "paragraph-x",
	KindHeading:   "heading-x",
	KindQuote:     "quote-x",
	KindCode:      "code-x",
	KindList:      "list-x",
	KindListItem:  "listitem-x",
	KindText:      "text-x",
	KindMark:      "mark-x",
}

// TypeName returns the serialized type name of a kind.
func (k NodeKind) TypeName() string {
	return kindTypeNames[k]
}

// kindOf maps a serialized type to a kind. Base types without the "-x"
// suffix are accepted and upgraded.
func kindOf(typeName string) (NodeKind, error) {
	name := strings.TrimSuffix(typeName, "-x")
	for k, t := range kindTypeNames {
		if strings.TrimSuffix(t, "-x") == name {
			return k, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownNodeType, typeName)
}

// ParseDocumentJSON decodes a serialized document. A missing version is
// treated as the current one.
func ParseDocumentJSON(data []byte) (SerializedDocument, error) {
	var sd SerializedDocument
	if err := json.Unmarshal(data, &sd); err != nil {
		return sd, fmt.Errorf("decoding document: %w", err)
	}
	if sd.Version == 0 {
		sd.Version = DocumentFormatVersion
	}
	if sd.Version > DocumentFormatVersion {
		return sd, fmt.Errorf("%w: %d", ErrUnsupportedVersion, sd.Version)
	}
	if sd.Root.Type != "" && sd.Root.Type != "root" {
		return sd, fmt.Errorf("%w: root has type %q", ErrInvalidStructure, sd.Root.Type)
	}
	return sd, nil
}

// Export returns the serialized form of the document. Stable ids are
// written verbatim; span counts are written as flags.
func (d *Document) Export() SerializedDocument {
	return SerializedDocument{
		Version:    DocumentFormatVersion,
		DocumentID: d.id,
		Root:       d.exportNode(d.root),
	}
}

// ExportJSON serializes the document.
func (d *Document) ExportJSON() ([]byte, error) {
	data, err := json.Marshal(d.Export())
	if err != nil {
		return nil, fmt.Errorf("encoding document: %w", err)
	}
	return data, nil
}

func (d *Document) exportNode(key NodeKey) SerializedNode {
	n := d.nodes[key]
	sn := SerializedNode{Type: n.kind.TypeName(), ID: n.id}
	switch n.kind {
	case KindText:
		sn.Text = n.text
		sn.Format = n.format
	case KindHeading:
		sn.Tag = n.tag
	case KindList:
		sn.ListType = n.tag
	case KindCode:
		sn.Language = n.tag
	case KindMark:
		sn.IDs = n.IDs()
		sn.Source = n.sourceCount > 0
		sn.Branch = n.branchCount > 0
	}
	for _, c := range n.children {
		sn.Children = append(sn.Children, d.exportNode(c))
	}
	return sn
}

// AppendJSON appends the top-level blocks of a serialized document. Stable
// ids already used by this document are regenerated; the number of
// regenerated ids is returned.
func (d *Document) AppendJSON(data []byte) (int, error) {
	sd, err := ParseDocumentJSON(data)
	if err != nil {
		return 0, err
	}
	var collisions int
	err = d.Update("append-json", func() error {
		collisions, err = d.appendSerialized(sd.Root.Children)
		return err
	})
	if err != nil {
		return 0, err
	}
	return collisions, nil
}

func (d *Document) appendSerialized(blocks []SerializedNode) (int, error) {
	collisions := 0
	for _, sn := range blocks {
		key, err := d.importNode(sn, KindRoot, &collisions)
		if err != nil {
			return collisions, err
		}
		d.appendChild(d.root, key)
	}
	return collisions, nil
}

func (d *Document) importNode(sn SerializedNode, parentKind NodeKind, collisions *int) (NodeKey, error) {
	kind, err := kindOf(sn.Type)
	if err != nil {
		return 0, err
	}
	if !allowedChild(parentKind, kind) {
		return 0, fmt.Errorf("%w: %s inside %s", ErrInvalidStructure, kind, parentKind)
	}
	if kind == KindMark && len(sn.IDs) == 0 {
		return 0, fmt.Errorf("%w: mark without ids", ErrInvalidStructure)
	}

	n := d.createNode(kind, sn.ID)
	if sn.ID != "" && n.id != sn.ID {
		*collisions++
	}
	switch kind {
	case KindText:
		n.text = sn.Text
		n.format = sn.Format
	case KindHeading:
		n.tag = sn.Tag
	case KindList:
		n.tag = sn.ListType
	case KindCode:
		n.tag = sn.Language
	case KindMark:
		n.ids = unionIDs(nil, sn.IDs)
		if sn.Source {
			n.sourceCount = 1
		}
		if sn.Branch {
			n.branchCount = 1
		}
	}
	for _, child := range sn.Children {
		key, err := d.importNode(child, kind, collisions)
		if err != nil {
			return 0, err
		}
		d.appendChild(n.key, key)
	}
	return n.key, nil
}

func allowedChild(parent, child NodeKind) bool {
	switch parent {
	case KindRoot:
		return child.IsBlock() && child != KindListItem
	case KindList:
		return child == KindListItem
	case KindListItem:
		return child == KindText || child == KindMark || child == KindList
	case KindMark:
		return child == KindText
	case KindText:
		return false
	}
	return child == KindText || child == KindMark
}
