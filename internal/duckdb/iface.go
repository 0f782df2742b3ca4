package duckdb

import "github.com/tinytelemetry/tunnelscope/internal/model"

var (
	_ model.VisitorStore   = (*Store)(nil)
	_ model.VisitorQuerier = (*Store)(nil)
)
