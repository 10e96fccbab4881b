package models

// NodeDescriptor is a diagnostic dump of one DOM subtree.
type NodeDescriptor struct {
	Tag        string            `json:"tag"`
	Text       string            `json:"text"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Children   []NodeDescriptor  `json:"children,omitempty"`
}
