// Package graphgo is an embedded graph-primitive store: an append-only
// sequence of immutable records with up to four directed edges each, a set
// of secondary indexes kept crash-consistent with the records, and a
// polymorphic iterator abstraction over any of them.
//
// Basic usage:
//
//	db, err := graphgo.Open(graphgo.WithRecordLog("./data"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	a, _ := db.Commit(ctx, &graphgo.Record{})
//	b, _ := db.Commit(ctx, &graphgo.Record{
//	    Edges: [4]graphgo.RecordID{graphgo.RoleRight: a},
//	    Value: []byte("42"),
//	})
//
//	it, _ := db.Edges(graphgo.RoleRight, a, 0, 0, false)
//	defer it.Close()
//	budget := graphgo.Unbounded
//	for {
//	    id, err := it.Next(&budget)
//	    if err != nil {
//	        break
//	    }
//	    _ = id // b
//	}
//
// Iterators serialize to text with Freeze and reconstruct with DB.Thaw, and
// transparently survive writes between calls: before a commit changes record
// geometry, every live cursor is suspended and later reacquires its backing
// resource at the same logical position, even when the backing posting list
// was promoted to a bitmap in between.
//
// Durability follows a checkpoint protocol: commits update indexes in
// memory, and Checkpoint (or the paced background slice on the commit path)
// advances the durable horizon in resumable stages. After a crash, Open
// replays any records past the last completed checkpoint.
package graphgo
