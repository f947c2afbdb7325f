package mongo

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"petshop/backend/internal/domain"
	"petshop/backend/internal/logger"
	"petshop/backend/internal/store"
)

const (
	inventoryCollection = "inventories"
	salesCollection     = "sales"
	usersCollection     = "users"
)

type Options struct {
	URI      string
	Database string
	// Transactions runs InTx inside a multi-document transaction. It needs a
	// replica set; standalone servers get compensating writes instead.
	Transactions bool
	Logger       *logger.Logger
}

type Store struct {
	client       *mongo.Client
	db           *mongo.Database
	inventory    *mongo.Collection
	sales        *mongo.Collection
	users        *mongo.Collection
	transactions bool
	log          *logger.Logger
}

func Open(ctx context.Context, opts Options) (*Store, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	clientOpts := options.Client().
		ApplyURI(opts.URI).
		SetMaxPoolSize(50).
		SetMinPoolSize(5).
		SetMaxConnIdleTime(5 * time.Minute).
		SetRetryWrites(true)

	client, err := mongo.Connect(connectCtx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	log := opts.Logger
	if log == nil {
		log = logger.Nop()
	}

	db := client.Database(opts.Database)
	s := &Store{
		client:       client,
		db:           db,
		inventory:    db.Collection(inventoryCollection),
		sales:        db.Collection(salesCollection),
		users:        db.Collection(usersCollection),
		transactions: opts.Transactions,
		log:          log,
	}
	if err := s.ensureIndexes(connectCtx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	_, err := s.sales.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "pet_food_id", Value: 1}, {Key: "sale_date", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("pet_food_id_sale_date"),
		},
		{
			Keys: bson.D{{Key: "sale_date", Value: -1}},
		},
	})
	if err != nil {
		return fmt.Errorf("create sales indexes: %w", err)
	}

	_, err = s.users.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "username", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("create users index: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// InTx runs fn in a session transaction when enabled. Otherwise writes apply
// immediately and are reverted in reverse order if fn fails.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	if s.transactions {
		session, err := s.client.StartSession()
		if err != nil {
			return err
		}
		defer session.EndSession(ctx)

		_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (any, error) {
			return nil, fn(sc, &mongoTx{s: s, now: time.Now().UTC()})
		})
		return err
	}

	tx := &mongoTx{s: s, now: time.Now().UTC(), compensate: true}
	if err := fn(ctx, tx); err != nil {
		if undoErr := tx.rollback(context.WithoutCancel(ctx)); undoErr != nil {
			s.log.Error(ctx, "mongo compensation failed", undoErr)
		}
		return err
	}
	return nil
}

func (s *Store) ListInventory(ctx context.Context) ([]domain.InventoryItem, error) {
	opts := options.Find().SetSort(bson.D{{Key: "category", Value: 1}, {Key: "productName", Value: 1}, {Key: "_id", Value: 1}})
	cursor, err := s.inventory.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}

	var docs []inventoryDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	items := make([]domain.InventoryItem, 0, len(docs))
	for _, doc := range docs {
		items = append(items, doc.toDomain())
	}
	return items, nil
}

func (s *Store) CreateInventoryItems(ctx context.Context, items []domain.InventoryItem) ([]domain.InventoryItem, error) {
	now := time.Now().UTC()
	docs := make([]any, 0, len(items))
	created := make([]domain.InventoryItem, 0, len(items))
	for _, item := range items {
		id := primitive.NewObjectID()
		if item.ID != "" {
			parsed, err := primitive.ObjectIDFromHex(item.ID)
			if err != nil {
				return nil, fmt.Errorf("inventory item id %q: %w", item.ID, err)
			}
			id = parsed
		}
		item.ID = id.Hex()
		item.CreatedAt = now
		item.UpdatedAt = now

		doc, err := inventoryDocFrom(item)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
		created = append(created, item)
	}
	if len(docs) == 0 {
		return created, nil
	}

	if _, err := s.inventory.InsertMany(ctx, docs); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, fmt.Errorf("inventory items: %w", store.ErrDuplicate)
		}
		return nil, err
	}
	return created, nil
}

func (s *Store) QuerySales(ctx context.Context, query domain.SaleQuery) ([]domain.SaleAggregate, error) {
	filter := bson.M{}
	if query.PetFoodID != "" {
		filter["pet_food_id"] = query.PetFoodID
	}
	if query.From != nil || query.To != nil {
		dates := bson.M{}
		if query.From != nil {
			dates["$gte"] = *query.From
		}
		if query.To != nil {
			dates["$lte"] = *query.To
		}
		filter["sale_date"] = dates
	}
	for field, value := range map[string]string{
		"brand":       query.Brand,
		"category":    query.Category,
		"productName": query.ProductName,
	} {
		if value != "" {
			filter[field] = primitive.Regex{Pattern: regexp.QuoteMeta(value), Options: "i"}
		}
	}

	opts := options.Find().SetSort(bson.D{{Key: "sale_date", Value: -1}, {Key: "productName", Value: 1}, {Key: "_id", Value: 1}})
	cursor, err := s.sales.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	var docs []saleDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}

	sales := make([]domain.SaleAggregate, 0, len(docs))
	for _, doc := range docs {
		sales = append(sales, doc.toDomain())
	}
	store.SortSales(sales)
	return sales, nil
}

func (s *Store) DeleteAllSales(ctx context.Context) (int, error) {
	res, err := s.sales.DeleteMany(ctx, bson.M{})
	if err != nil {
		return 0, err
	}
	return int(res.DeletedCount), nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	_, err := s.users.InsertOne(ctx, userDoc{
		Username:  strings.ToLower(strings.TrimSpace(user.Username)),
		Name:      user.Name,
		Role:      user.Role,
		Password:  user.Password,
		CreatedAt: user.CreatedAt,
	})
	if mongo.IsDuplicateKeyError(err) {
		return store.ErrDuplicate
	}
	return err
}

func (s *Store) GetUser(ctx context.Context, username string) (*domain.UserAccount, error) {
	var doc userDoc
	err := s.users.FindOne(ctx, bson.M{"username": strings.ToLower(strings.TrimSpace(username))}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	user := doc.toDomain()
	return &user, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	cursor, err := s.users.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "username", Value: 1}}))
	if err != nil {
		return nil, err
	}
	var docs []userDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	users := make([]domain.UserAccount, 0, len(docs))
	for _, doc := range docs {
		users = append(users, doc.toDomain())
	}
	return users, nil
}

func (s *Store) DeleteUsers(ctx context.Context, usernames []string) (int, error) {
	names := store.UniqueIDs(usernames)
	for i := range names {
		names[i] = strings.ToLower(names[i])
	}
	if len(names) == 0 {
		return 0, nil
	}
	res, err := s.users.DeleteMany(ctx, bson.M{"username": bson.M{"$in": names}})
	if err != nil {
		return 0, err
	}
	return int(res.DeletedCount), nil
}

// objectIDs converts hex ids, dropping the ones that cannot exist.
func objectIDs(ids []string) []primitive.ObjectID {
	out := make([]primitive.ObjectID, 0, len(ids))
	for _, id := range store.UniqueIDs(ids) {
		oid, err := primitive.ObjectIDFromHex(id)
		if err != nil {
			continue
		}
		out = append(out, oid)
	}
	return out
}

func toDecimal128(d decimal.Decimal) (primitive.Decimal128, error) {
	return primitive.ParseDecimal128(d.String())
}

func fromDecimal128(d primitive.Decimal128) decimal.Decimal {
	out, err := decimal.NewFromString(d.String())
	if err != nil {
		return decimal.Zero
	}
	return out
}
