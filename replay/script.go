package replay

import (
	_ "embed"
	"encoding/json"
	"fmt"
)

// Script installs window.__domreplay in a page. Pages load it once per
// document, then receive journals through ApplyExpression.
//
//go:embed executor.js
var Script string

// ApplyExpression returns a JavaScript expression that executes ops in a
// page where Script is installed.
func ApplyExpression(ops []Op) (string, error) {
	if ops == nil {
		ops = []Op{}
	}
	data, err := json.Marshal(ops)
	if err != nil {
		return "", fmt.Errorf("replay: encode ops: %w", err)
	}
	return "window.__domreplay.apply(" + string(data) + ")", nil
}

// LayoutExpression returns an expression evaluating to the Layout of ids.
func LayoutExpression(frame string, ids []int) (string, error) {
	if ids == nil {
		ids = []int{}
	}
	f, err := json.Marshal(frame)
	if err != nil {
		return "", err
	}
	i, err := json.Marshal(ids)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("window.__domreplay.layout(%s, %s)", f, i), nil
}
