// Package db embeds the SQL schema applied at startup.
package db

import _ "embed"

// Schema holds the DDL for the promotion engine tables: products,
// promotions, promotion_rules, and orders.
//
//go:embed migrations/001_schema.sql
var Schema string
