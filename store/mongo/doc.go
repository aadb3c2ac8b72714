// Package mongo implements store.Store on MongoDB using the official v2
// driver. Suitable for distributed deployments that already run a replica
// set.
//
// Job documents carry a version field; updates filter on it and inserts
// rely on the unique _id, so concurrent servers never overwrite each other.
// The caller owns the client lifecycle:
//
//	client, _ := mongo.Connect(options.Client().ApplyURI(uri))
//	s := mongostore.New(client.Database("shepherd"))
//	err := s.Migrate(ctx)
package mongo
