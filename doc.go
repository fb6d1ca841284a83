// Package holodex is a client-side query engine for vector, full-text and
// hybrid search over tables in Hologres or any Postgres-compatible server.
//
// One API serves three backends, chosen by the connection URI:
//
//	holo://<database>           Hologres Cloud REST API
//	postgres://user@host/db     direct pgx connection (pgvector or array distance)
//	memory://<name>             in-process store for tests and prototyping
//
// A query is described with an immutable builder and planned client-side:
//
//	conn, err := holodex.Connect(ctx, "postgres://localhost/app")
//	if err != nil {
//		return err
//	}
//	defer conn.Close()
//
//	docs, err := conn.OpenTable(ctx, "docs", holodex.WithTableEmbedder(emb))
//	if err != nil {
//		return err
//	}
//	res, err := docs.Query().
//		WithValue("vector databases").
//		WithText("vector databases").
//		Filter("lang = 'en'").
//		Limit(10).
//		Execute(ctx)
//
// Hybrid queries fuse min-max normalized vector and text scores. Queries
// without a usable index fall back to an exact scan and report it in
// Result.Degraded instead of failing.
//
// ConnectAsync returns the same surface with every operation returning a
// Future. Handles of a closed connection fail with ErrConnectionClosed.
package holodex
