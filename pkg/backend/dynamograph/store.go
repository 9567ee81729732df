package dynamograph

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"slices"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"

	"github.com/DrSkyle/propgraph/pkg/graph"
)

// API is the subset of the DynamoDB client the store uses.
type API interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
	CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

// Item layout in a single table keyed by pk/sk:
//
//	N#<id>      N           node: id, type, props, seq, outCount, inCount
//	NODES       <seq>       insertion-order index (denormalized record)
//	T#<type>    <seq>       type index (denormalized record)
//	O#<source>  <target>    forward edge, seq
//	I#<target>  <source>    reverse edge, seq
//	META        seq|nodes|edges   counters
const (
	attrPK = "pk"
	attrSK = "sk"

	nodeSK    = "N"
	ordersPK  = "NODES"
	metaPK    = "META"
	seqName   = "seq"
	nodesName = "nodes"
	edgesName = "edges"

	condExists    = "attribute_exists(pk)"
	condNotExists = "attribute_not_exists(pk)"
	reasonFailed  = "ConditionalCheckFailed"
)

// Store is a graph.NodeStore over one DynamoDB table. Edges returns the
// matching graph.EdgeIndex.
type Store struct {
	client API
	table  string
}

var (
	_ graph.NodeStore = (*Store)(nil)
	_ graph.EdgeIndex = (*Edges)(nil)
)

// New builds a store on table.
func New(client API, table string) *Store {
	return &Store{client: client, table: table}
}

// NewFromConfig builds a store from an AWS config. A non-empty endpoint
// overrides the service endpoint (LocalStack, DynamoDB Local).
func NewFromConfig(cfg aws.Config, table, endpoint string) *Store {
	client := dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
	return New(client, table)
}

// EnsureTable creates the table if it does not exist and waits until it is
// active.
func (s *Store) EnsureTable(ctx context.Context) error {
	_, err := s.client.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName: aws.String(s.table),
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String(attrPK), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String(attrSK), AttributeType: types.ScalarAttributeTypeS},
		},
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String(attrPK), KeyType: types.KeyTypeHash},
			{AttributeName: aws.String(attrSK), KeyType: types.KeyTypeRange},
		},
		BillingMode: types.BillingModePayPerRequest,
	})
	var apiErr smithy.APIError
	if err != nil && !(errors.As(err, &apiErr) && apiErr.ErrorCode() == "ResourceInUseException") {
		return fmt.Errorf("failed to create table %s: %w", s.table, err)
	}

	waiter := dynamodb.NewTableExistsWaiter(s.client)
	if err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(s.table)}, 2*time.Minute); err != nil {
		return fmt.Errorf("table %s not ready: %w", s.table, err)
	}
	return nil
}

// Attribute helpers

func str(v string) types.AttributeValue { return &types.AttributeValueMemberS{Value: v} }
func num(v int64) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(v, 10)}
}

func itemKey(pk, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{attrPK: str(pk), attrSK: str(sk)}
}

func nodePK(id string) string { return "N#" + id }
func typePK(t int) string     { return "T#" + strconv.Itoa(t) }
func outPK(id string) string  { return "O#" + id }
func inPK(id string) string   { return "I#" + id }
func seqSK(seq int64) string  { return fmt.Sprintf("%020d", seq) }

func getS(item map[string]types.AttributeValue, name string) string {
	if v, ok := item[name].(*types.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}

func getN(item map[string]types.AttributeValue, name string) int64 {
	if v, ok := item[name].(*types.AttributeValueMemberN); ok {
		n, _ := strconv.ParseInt(v.Value, 10, 64)
		return n
	}
	return 0
}

type nodeItem struct {
	rec *graph.Record
	seq int64
}

func decodeNode(item map[string]types.AttributeValue) (*nodeItem, error) {
	props := map[string]any{}
	if raw := getS(item, "props"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &props); err != nil {
			return nil, fmt.Errorf("failed to unmarshal props: %w", err)
		}
	}
	return &nodeItem{
		rec: graph.NewRecord(int(getN(item, "type")), getS(item, "id"), props),
		seq: getN(item, "seq"),
	}, nil
}

// indexItem is the denormalized copy of a node stored under an index key.
func indexItem(pk string, seq int64, rec *graph.Record, props string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		attrPK:  str(pk),
		attrSK:  str(seqSK(seq)),
		"id":    str(rec.ID),
		"type":  num(int64(rec.Type)),
		"props": str(props),
		"seq":   num(seq),
	}
}

// cancelled returns the cancellation reason codes of a failed transaction.
func cancelled(err error) ([]string, bool) {
	var tce *types.TransactionCanceledException
	if !errors.As(err, &tce) {
		return nil, false
	}
	codes := make([]string, len(tce.CancellationReasons))
	for i, r := range tce.CancellationReasons {
		codes[i] = aws.ToString(r.Code)
	}
	return codes, true
}

// failedAt reports whether err cancelled a transaction because the
// condition on item i failed. Cancellations without reasons never match.
func failedAt(err error, i int) bool {
	codes, ok := cancelled(err)
	return ok && i < len(codes) && codes[i] == reasonFailed
}

func (s *Store) counter(ctx context.Context, name string, delta int64) (int64, error) {
	out, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.table),
		Key:                       itemKey(metaPK, name),
		UpdateExpression:          aws.String("ADD #n :d"),
		ExpressionAttributeNames:  map[string]string{"#n": "n"},
		ExpressionAttributeValues: map[string]types.AttributeValue{":d": num(delta)},
		ReturnValues:              types.ReturnValueUpdatedNew,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to update counter %s: %w", name, err)
	}
	return getN(out.Attributes, "n"), nil
}

func (s *Store) readCounter(ctx context.Context, pk, sk, attr string) (int, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            itemKey(pk, sk),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return 0, err
	}
	return int(getN(out.Item, attr)), nil
}

func (s *Store) metaCounter(name string) types.TransactWriteItem {
	return s.metaDelta(name, 1)
}

func (s *Store) metaDelta(name string, delta int64) types.TransactWriteItem {
	return types.TransactWriteItem{Update: &types.Update{
		TableName:                 aws.String(s.table),
		Key:                       itemKey(metaPK, name),
		UpdateExpression:          aws.String("ADD #n :d"),
		ExpressionAttributeNames:  map[string]string{"#n": "n"},
		ExpressionAttributeValues: map[string]types.AttributeValue{":d": num(delta)},
	}}
}

func (s *Store) load(ctx context.Context, id string) (*nodeItem, bool, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            itemKey(nodePK(id), nodeSK),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to get node %q: %w", id, err)
	}
	if len(out.Item) == 0 {
		return nil, false, nil
	}
	n, err := decodeNode(out.Item)
	if err != nil {
		return nil, false, err
	}
	return n, true, nil
}

func (s *Store) Put(ctx context.Context, node graph.Node) (graph.Outcome, error) {
	if node == nil {
		return 0, graph.ErrNilNode
	}
	if node.NodeID() == "" {
		return 0, graph.ErrInvalidID
	}
	rec, err := graph.Snapshot(ctx, node)
	if err != nil {
		return 0, fmt.Errorf("failed to resolve props: %w", err)
	}
	props, err := json.Marshal(rec.Props)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal props: %w", err)
	}

	prev, found, err := s.load(ctx, rec.ID)
	if err != nil {
		return 0, err
	}

	outcome := graph.OutcomeCreated
	cond := condNotExists
	var seq int64
	if found {
		outcome, cond, seq = graph.OutcomeUpdated, condExists, prev.seq
	} else if seq, err = s.counter(ctx, seqName, 1); err != nil {
		return 0, err
	}

	items := []types.TransactWriteItem{
		{Update: &types.Update{
			TableName:           aws.String(s.table),
			Key:                 itemKey(nodePK(rec.ID), nodeSK),
			UpdateExpression:    aws.String("SET #id = :id, #t = :t, #p = :p, #s = :s"),
			ConditionExpression: aws.String(cond),
			ExpressionAttributeNames: map[string]string{
				"#id": "id", "#t": "type", "#p": "props", "#s": "seq",
			},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":id": str(rec.ID),
				":t":  num(int64(rec.Type)),
				":p":  str(string(props)),
				":s":  num(seq),
			},
		}},
		{Put: &types.Put{TableName: aws.String(s.table), Item: indexItem(ordersPK, seq, rec, string(props))}},
		{Put: &types.Put{TableName: aws.String(s.table), Item: indexItem(typePK(rec.Type), seq, rec, string(props))}},
	}
	if found && prev.rec.Type != rec.Type {
		items = append(items, types.TransactWriteItem{Delete: &types.Delete{
			TableName: aws.String(s.table),
			Key:       itemKey(typePK(prev.rec.Type), seqSK(seq)),
		}})
	}
	if !found {
		items = append(items, s.metaCounter(nodesName))
	}

	if _, err := s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items}); err != nil {
		return 0, fmt.Errorf("failed to store node %q: %w", rec.ID, err)
	}
	return outcome, nil
}

func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	prev, found, err := s.load(ctx, id)
	if err != nil || !found {
		return false, err
	}
	items := []types.TransactWriteItem{
		{Delete: &types.Delete{
			TableName:           aws.String(s.table),
			Key:                 itemKey(nodePK(id), nodeSK),
			ConditionExpression: aws.String(condExists),
		}},
		{Delete: &types.Delete{TableName: aws.String(s.table), Key: itemKey(ordersPK, seqSK(prev.seq))}},
		{Delete: &types.Delete{TableName: aws.String(s.table), Key: itemKey(typePK(prev.rec.Type), seqSK(prev.seq))}},
		s.metaDelta(nodesName, -1),
	}
	_, err = s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items})
	if failedAt(err, 0) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to delete node %q: %w", id, err)
	}
	return true, nil
}

func (s *Store) Get(ctx context.Context, id string) (graph.Node, bool, error) {
	n, found, err := s.load(ctx, id)
	if err != nil || !found {
		return nil, false, err
	}
	return n.rec, true, nil
}

func (s *Store) All(ctx context.Context) iter.Seq2[graph.Node, error] {
	return s.queryNodes(ctx, ordersPK)
}

func (s *Store) ByType(ctx context.Context, nodeType int) iter.Seq2[graph.Node, error] {
	return s.queryNodes(ctx, typePK(nodeType))
}

// query pages through every item under pk in sort key order.
func (s *Store) query(ctx context.Context, pk string) iter.Seq2[map[string]types.AttributeValue, error] {
	return func(yield func(map[string]types.AttributeValue, error) bool) {
		paginator := dynamodb.NewQueryPaginator(s.client, &dynamodb.QueryInput{
			TableName:                 aws.String(s.table),
			KeyConditionExpression:    aws.String("pk = :pk"),
			ExpressionAttributeValues: map[string]types.AttributeValue{":pk": str(pk)},
			ConsistentRead:            aws.Bool(true),
		})
		for paginator.HasMorePages() {
			page, err := paginator.NextPage(ctx)
			if err != nil {
				yield(nil, fmt.Errorf("failed to query %s: %w", pk, err))
				return
			}
			for _, item := range page.Items {
				if !yield(item, nil) {
					return
				}
			}
		}
	}
}

func (s *Store) queryNodes(ctx context.Context, pk string) iter.Seq2[graph.Node, error] {
	return func(yield func(graph.Node, error) bool) {
		for item, err := range s.query(ctx, pk) {
			if err != nil {
				yield(nil, err)
				return
			}
			n, err := decodeNode(item)
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(n.rec, nil) {
				return
			}
		}
	}
}

func (s *Store) Len(ctx context.Context) (int, error) {
	n, err := s.readCounter(ctx, metaPK, nodesName, "n")
	if err != nil {
		return 0, fmt.Errorf("failed to count nodes: %w", err)
	}
	return n, nil
}

// Edges is the graph.EdgeIndex view of a Store.
type Edges struct {
	s *Store
}

// Edges returns the adjacency view over the same table.
func (s *Store) Edges() *Edges {
	return &Edges{s: s}
}

// countUpdates adjusts the degree counters of both endpoints. A self-loop
// touches one item, which a transaction may only name once.
func (e *Edges) countUpdates(source, target string, delta int64) []types.TransactWriteItem {
	update := func(id, expr string) types.TransactWriteItem {
		return types.TransactWriteItem{Update: &types.Update{
			TableName:                 aws.String(e.s.table),
			Key:                       itemKey(nodePK(id), nodeSK),
			UpdateExpression:          aws.String(expr),
			ConditionExpression:       aws.String(condExists),
			ExpressionAttributeValues: map[string]types.AttributeValue{":d": num(delta)},
		}}
	}
	if source == target {
		return []types.TransactWriteItem{update(source, "ADD outCount :d, inCount :d")}
	}
	return []types.TransactWriteItem{
		update(source, "ADD outCount :d"),
		update(target, "ADD inCount :d"),
	}
}

func (e *Edges) Add(ctx context.Context, source, target string) (bool, error) {
	if has, err := e.Has(ctx, source, target); err != nil || has {
		return false, err
	}
	seq, err := e.s.counter(ctx, seqName, 1)
	if err != nil {
		return false, err
	}

	items := e.countUpdates(source, target, 1)
	endpoints := len(items)
	items = append(items,
		types.TransactWriteItem{Put: &types.Put{
			TableName: aws.String(e.s.table),
			Item: map[string]types.AttributeValue{
				attrPK: str(outPK(source)), attrSK: str(target), "seq": num(seq),
			},
			ConditionExpression: aws.String(condNotExists),
		}},
		types.TransactWriteItem{Put: &types.Put{
			TableName: aws.String(e.s.table),
			Item: map[string]types.AttributeValue{
				attrPK: str(inPK(target)), attrSK: str(source), "seq": num(seq),
			},
		}},
		e.s.metaCounter(edgesName),
	)

	_, err = e.s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items})
	if codes, ok := cancelled(err); ok {
		for i, code := range codes {
			if code != reasonFailed {
				continue
			}
			if i < endpoints {
				missing := source
				if i == 1 {
					missing = target
				}
				return false, fmt.Errorf("%w: %q", graph.ErrMissingEndpoint, missing)
			}
			return false, nil
		}
	}
	if err != nil {
		return false, fmt.Errorf("failed to add edge %q->%q: %w", source, target, err)
	}
	return true, nil
}

func (e *Edges) Remove(ctx context.Context, source, target string) (bool, error) {
	items := []types.TransactWriteItem{
		{Delete: &types.Delete{
			TableName:           aws.String(e.s.table),
			Key:                 itemKey(outPK(source), target),
			ConditionExpression: aws.String(condExists),
		}},
		{Delete: &types.Delete{TableName: aws.String(e.s.table), Key: itemKey(inPK(target), source)}},
		e.s.metaDelta(edgesName, -1),
	}
	items = append(items, e.countUpdates(source, target, -1)...)

	_, err := e.s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items})
	if failedAt(err, 0) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to remove edge %q->%q: %w", source, target, err)
	}
	return true, nil
}

func (e *Edges) Has(ctx context.Context, source, target string) (bool, error) {
	out, err := e.s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(e.s.table),
		Key:            itemKey(outPK(source), target),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return false, fmt.Errorf("failed to check edge %q->%q: %w", source, target, err)
	}
	return len(out.Item) > 0, nil
}

type neighbour struct {
	id  string
	seq int64
}

// neighbours reads one adjacency partition ordered by edge sequence.
func (e *Edges) neighbours(ctx context.Context, pk string) ([]neighbour, error) {
	var out []neighbour
	for item, err := range e.s.query(ctx, pk) {
		if err != nil {
			return nil, err
		}
		out = append(out, neighbour{id: getS(item, attrSK), seq: getN(item, "seq")})
	}
	slices.SortFunc(out, func(a, b neighbour) int { return cmp.Compare(a.seq, b.seq) })
	return out, nil
}

func (e *Edges) ids(ctx context.Context, pk string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		ns, err := e.neighbours(ctx, pk)
		if err != nil {
			yield("", err)
			return
		}
		for _, n := range ns {
			if !yield(n.id, nil) {
				return
			}
		}
	}
}

func (e *Edges) TargetsOf(ctx context.Context, id string) iter.Seq2[string, error] {
	return e.ids(ctx, outPK(id))
}

func (e *Edges) SourcesOf(ctx context.Context, id string) iter.Seq2[string, error] {
	return e.ids(ctx, inPK(id))
}

func (e *Edges) TargetCount(ctx context.Context, id string) (int, error) {
	n, err := e.s.readCounter(ctx, nodePK(id), nodeSK, "outCount")
	if err != nil {
		return 0, fmt.Errorf("failed to count targets of %q: %w", id, err)
	}
	return n, nil
}

func (e *Edges) SourceCount(ctx context.Context, id string) (int, error) {
	n, err := e.s.readCounter(ctx, nodePK(id), nodeSK, "inCount")
	if err != nil {
		return 0, fmt.Errorf("failed to count sources of %q: %w", id, err)
	}
	return n, nil
}

func (e *Edges) Len(ctx context.Context) (int, error) {
	n, err := e.s.readCounter(ctx, metaPK, edgesName, "n")
	if err != nil {
		return 0, fmt.Errorf("failed to count edges: %w", err)
	}
	return n, nil
}

// DropAllEdgesOf removes the edges one transaction at a time.
func (e *Edges) DropAllEdgesOf(ctx context.Context, id string) (int, error) {
	outs, err := e.neighbours(ctx, outPK(id))
	if err != nil {
		return 0, err
	}
	ins, err := e.neighbours(ctx, inPK(id))
	if err != nil {
		return 0, err
	}

	removed := 0
	drop := func(source, target string) error {
		ok, err := e.Remove(ctx, source, target)
		if ok {
			removed++
		}
		return err
	}
	for _, n := range outs {
		if err := drop(id, n.id); err != nil {
			return removed, err
		}
	}
	for _, n := range ins {
		if n.id == id {
			continue
		}
		if err := drop(n.id, id); err != nil {
			return removed, err
		}
	}
	return removed, nil
}
