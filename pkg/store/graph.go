package store

import (
	"context"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/onchain-intel/engine/pkg/model"
)

// GraphStore is the CorrelationEngine's durable view of the wallet/cluster
// relationship graph. Wallets and clusters are nodes; FUNDED_BY,
// CORRELATED_WITH, and MEMBER_OF are the edges, written by the correlation
// engine and the fresh-wallet matcher and kept in a graph because walking
// them relationally would need an unbounded number of self-joins.
type GraphStore struct {
	driver neo4j.DriverWithContext
}

func NewGraphStore(uri, username, password string) (*GraphStore, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, err
	}
	return &GraphStore{driver: driver}, nil
}

func (g *GraphStore) Close(ctx context.Context) error {
	return g.driver.Close(ctx)
}

func (g *GraphStore) session(ctx context.Context) neo4j.SessionWithContext {
	return g.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
}

// UpsertWallet ensures a (:Wallet {address}) node exists, tagged with the
// category the detector that discovered it assigned.
func (g *GraphStore) UpsertWallet(ctx context.Context, address, category string) error {
	session := g.session(ctx)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return tx.Run(ctx, `
			MERGE (w:Wallet {address: $address})
			ON CREATE SET w.category = $category, w.first_seen = datetime()
			ON MATCH SET w.category = $category`,
			map[string]any{"address": address, "category": category})
	})
	return err
}

// RecordFunding writes a FUNDED_BY edge from the recipient wallet back to
// the exchange-labeled source wallet, the graph's record of a CEX withdrawal.
func (g *GraphStore) RecordFunding(ctx context.Context, recipient, source string, amount float64, at time.Time) error {
	session := g.session(ctx)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return tx.Run(ctx, `
			MERGE (r:Wallet {address: $recipient})
			MERGE (s:Wallet {address: $source})
			MERGE (r)-[f:FUNDED_BY]->(s)
			SET f.amount = $amount, f.at = $at`,
			map[string]any{"recipient": recipient, "source": source, "amount": amount, "at": at.Format(time.RFC3339)})
	})
	return err
}

// RecordCorrelation writes an undirected CORRELATED_WITH edge between two
// wallets, keyed by the contract that triggered the correlation.
func (g *GraphStore) RecordCorrelation(ctx context.Context, r model.CorrelationResult) error {
	session := g.session(ctx)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return tx.Run(ctx, `
			MERGE (a:Wallet {address: $a})
			MERGE (b:Wallet {address: $b})
			MERGE (a)-[c:CORRELATED_WITH {contract: $contract}]-(b)
			SET c.score = $score, c.updated_at = datetime()`,
			map[string]any{
				"a": r.WalletA, "b": r.WalletB,
				"contract": r.TriggeringContract, "score": r.Score.InexactFloat64(),
			})
	})
	return err
}

// SyncCluster mirrors an in-memory WalletCluster onto a (:Cluster) node and
// MEMBER_OF edges from every member wallet.
func (g *GraphStore) SyncCluster(ctx context.Context, c *model.WalletCluster) error {
	session := g.session(ctx)
	defer session.Close(ctx)

	members := make([]string, 0, len(c.Wallets))
	for w := range c.Wallets {
		members = append(members, w)
	}

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return tx.Run(ctx, `
			MERGE (cl:Cluster {cluster_id: $clusterID})
			SET cl.state = $state, cl.avg_correlation = $avgCorrelation, cl.updated_at = datetime()
			WITH cl
			UNWIND $members AS addr
			MERGE (w:Wallet {address: addr})
			MERGE (w)-[:MEMBER_OF]->(cl)`,
			map[string]any{
				"clusterID":      c.ClusterID,
				"state":          string(c.State()),
				"avgCorrelation": c.AvgCorrelation.InexactFloat64(),
				"members":        members,
			})
	})
	return err
}

// CoClusterMembers returns every wallet sharing a cluster with address.
func (g *GraphStore) CoClusterMembers(ctx context.Context, address string) ([]string, error) {
	session := g.session(ctx)
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
			MATCH (w:Wallet {address: $address})-[:MEMBER_OF]->(cl:Cluster)<-[:MEMBER_OF]-(other:Wallet)
			WHERE other.address <> $address
			RETURN DISTINCT other.address AS addr`,
			map[string]any{"address": address})
		if err != nil {
			return nil, err
		}
		var out []string
		for res.Next(ctx) {
			addr, _ := res.Record().Get("addr")
			if s, ok := addr.(string); ok {
				out = append(out, s)
			}
		}
		return out, res.Err()
	})
	if err != nil {
		return nil, err
	}
	return result.([]string), nil
}

// FundingChainDepth walks FUNDED_BY edges up to maxDepth hops, returning
// the ordered chain of intermediary wallets back to the first exchange-
// labeled wallet found.
func (g *GraphStore) FundingChainDepth(ctx context.Context, address string, maxDepth int) ([]string, error) {
	session := g.session(ctx)
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
			MATCH path = (w:Wallet {address: $address})-[:FUNDED_BY*1..`+depthLiteral(maxDepth)+`]->(source:Wallet)
			WHERE source.address STARTS WITH 'CEX:'
			RETURN [n IN nodes(path) | n.address] AS chain
			ORDER BY length(path) ASC LIMIT 1`,
			map[string]any{"address": address})
		if err != nil {
			return nil, err
		}
		if res.Next(ctx) {
			chain, _ := res.Record().Get("chain")
			if raw, ok := chain.([]any); ok {
				out := make([]string, 0, len(raw))
				for _, v := range raw {
					if s, ok := v.(string); ok {
						out = append(out, s)
					}
				}
				return out, nil
			}
		}
		return nil, res.Err()
	})
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, nil
	}
	return result.([]string), nil
}

func depthLiteral(n int) string {
	if n <= 0 {
		n = 1
	}
	if n > 10 {
		n = 10
	}
	digits := "0123456789"
	if n < 10 {
		return string(digits[n])
	}
	return "10"
}
