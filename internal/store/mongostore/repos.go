package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/noah-isme/storefront-core/internal/catalog"
	"github.com/noah-isme/storefront-core/internal/events"
	"github.com/noah-isme/storefront-core/internal/order"
	"github.com/noah-isme/storefront-core/internal/reviews"
	"github.com/noah-isme/storefront-core/internal/store"
)

var (
	_ catalog.Repository = (*Products)(nil)
	_ order.Repository   = (*Orders)(nil)
	_ reviews.Repository = (*Reviews)(nil)
	_ events.Store       = (*Events)(nil)
)

// Products implements catalog.Repository.
type Products struct {
	C *mongo.Collection
}

func (r *Products) Get(ctx context.Context, id string) (catalog.Product, error) {
	var p catalog.Product
	if err := r.C.FindOne(ctx, bson.M{"_id": id}).Decode(&p); err != nil {
		return catalog.Product{}, mapError(err)
	}
	return p, nil
}

func (r *Products) List(ctx context.Context, limit, offset int) ([]catalog.Product, int, error) {
	total, err := r.C.CountDocuments(ctx, bson.M{})
	if err != nil {
		return nil, 0, fmt.Errorf("count products: %w", err)
	}
	cur, err := r.C.Find(ctx, bson.M{}, findPage(limit, offset).SetSort(bson.D{{Key: "name", Value: 1}, {Key: "_id", Value: 1}}))
	if err != nil {
		return nil, 0, fmt.Errorf("list products: %w", err)
	}
	out, err := decodeAll[catalog.Product](ctx, cur)
	return out, int(total), err
}

func (r *Products) Upsert(ctx context.Context, p catalog.Product) error {
	p.UpdatedAt = time.Now().UTC()
	_, err := r.C.UpdateOne(ctx, bson.M{"_id": p.ID}, bson.M{
		"$set": bson.M{
			"name":          p.Name,
			"price":         p.Price,
			"image":         p.Image,
			"stockQuantity": p.StockQuantity,
			"inStock":       p.InStock,
			"updatedAt":     p.UpdatedAt,
		},
		"$setOnInsert": bson.M{"rating": p.Rating, "numReviews": p.NumReviews},
	}, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("upsert product %s: %w", p.ID, mapError(err))
	}
	return nil
}

func (r *Products) UpdateRating(ctx context.Context, id string, rating float64, numReviews int) error {
	res, err := r.C.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{
		"rating":     rating,
		"numReviews": numReviews,
		"updatedAt":  time.Now().UTC(),
	}})
	if err != nil {
		return fmt.Errorf("update rating %s: %w", id, err)
	}
	if res.MatchedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

// Orders implements order.Repository. Conditional updates are one
// FindOneAndUpdate whose filter carries the status guards.
type Orders struct {
	C *mongo.Collection
}

func (r *Orders) Insert(ctx context.Context, o order.Order) error {
	if _, err := r.C.InsertOne(ctx, o); err != nil {
		return fmt.Errorf("insert order %s: %w", o.Number, mapError(err))
	}
	return nil
}

func (r *Orders) findOne(ctx context.Context, filter bson.M) (order.Order, error) {
	var o order.Order
	if err := r.C.FindOne(ctx, filter).Decode(&o); err != nil {
		return order.Order{}, mapError(err)
	}
	return o, nil
}

func (r *Orders) Get(ctx context.Context, id uuid.UUID) (order.Order, error) {
	return r.findOne(ctx, bson.M{"_id": id})
}

func (r *Orders) GetByNumber(ctx context.Context, number string) (order.Order, error) {
	return r.findOne(ctx, bson.M{"orderNumber": number})
}

func (r *Orders) ListByUser(ctx context.Context, userID string, limit, offset int) ([]order.Order, int, error) {
	filter := bson.M{"userId": userID}
	total, err := r.C.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("count orders: %w", err)
	}
	cur, err := r.C.Find(ctx, filter, findPage(limit, offset).SetSort(bson.D{{Key: "createdAt", Value: -1}}))
	if err != nil {
		return nil, 0, fmt.Errorf("list orders: %w", err)
	}
	out, err := decodeAll[order.Order](ctx, cur)
	return out, int(total), err
}

// updateDocument renders the non-nil fields of u as a $set document.
func updateDocument(u order.ConditionalUpdate, now time.Time) bson.M {
	set := bson.M{"updatedAt": now}
	if u.Status != nil {
		set["status"] = *u.Status
	}
	if u.PaymentStatus != nil {
		set["paymentStatus"] = *u.PaymentStatus
	}
	if u.TransactionID != nil {
		set["transactionId"] = *u.TransactionID
	}
	if u.PaymentIntentID != nil {
		set["paymentIntentId"] = *u.PaymentIntentID
	}
	if u.PaidAt != nil {
		set["paidAt"] = *u.PaidAt
	}
	if u.BankTransfer != nil {
		set["bankTransfer"] = *u.BankTransfer
	}
	return bson.M{"$set": set}
}

// guardFilter matches id and the update's status guards.
func guardFilter(id uuid.UUID, u order.ConditionalUpdate) bson.M {
	filter := bson.M{"_id": id}
	if len(u.FromStatuses) > 0 {
		filter["status"] = bson.M{"$in": u.StatusStrings()}
	}
	if len(u.FromPaymentStatuses) > 0 {
		filter["paymentStatus"] = bson.M{"$in": u.PaymentStatusStrings()}
	}
	return filter
}

func (r *Orders) UpdateIf(ctx context.Context, id uuid.UUID, u order.ConditionalUpdate) (order.Order, bool, error) {
	var updated order.Order
	err := r.C.FindOneAndUpdate(ctx, guardFilter(id, u), updateDocument(u, time.Now().UTC()),
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&updated)
	if err == nil {
		return updated, true, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return order.Order{}, false, fmt.Errorf("conditional update %s: %w", id, err)
	}
	current, err := r.Get(ctx, id)
	if err != nil {
		return order.Order{}, false, err
	}
	return current, false, nil
}

// guestFilter matches guest orders placed under email. Guest orders carry no
// userId field.
func guestFilter(email string) bson.M {
	return bson.M{
		"userId": bson.M{"$in": bson.A{nil, ""}},
		"email":  email,
	}
}

// emailCollation compares emails case-insensitively.
var emailCollation = &options.Collation{Locale: "en", Strength: 2}

func (r *Orders) AssignGuestOrders(ctx context.Context, email, userID string) (int, error) {
	res, err := r.C.UpdateMany(ctx, guestFilter(email),
		bson.M{"$set": bson.M{"userId": userID, "updatedAt": time.Now().UTC()}},
		options.Update().SetCollation(emailCollation))
	if err != nil {
		return 0, fmt.Errorf("assign guest orders: %w", err)
	}
	return int(res.ModifiedCount), nil
}

// Reviews implements reviews.Repository on a collection with a unique
// (userId, productId) index.
type Reviews struct {
	C *mongo.Collection
}

var reviewSorts = map[reviews.Sort]bson.D{
	reviews.SortNewest:      {{Key: "createdAt", Value: -1}},
	reviews.SortHighest:     {{Key: "rating", Value: -1}, {Key: "createdAt", Value: -1}},
	reviews.SortLowest:      {{Key: "rating", Value: 1}, {Key: "createdAt", Value: -1}},
	reviews.SortMostHelpful: {{Key: "helpfulCount", Value: -1}, {Key: "createdAt", Value: -1}},
}

func (s *Reviews) Insert(ctx context.Context, r reviews.Review) error {
	if r.HelpfulUsers == nil {
		r.HelpfulUsers = []string{}
	}
	if r.Reports == nil {
		r.Reports = []reviews.Report{}
	}
	if _, err := s.C.InsertOne(ctx, r); err != nil {
		return fmt.Errorf("insert review: %w", mapError(err))
	}
	return nil
}

func (s *Reviews) Get(ctx context.Context, id uuid.UUID) (reviews.Review, error) {
	var r reviews.Review
	if err := s.C.FindOne(ctx, bson.M{"_id": id}).Decode(&r); err != nil {
		return reviews.Review{}, mapError(err)
	}
	return r, nil
}

func (s *Reviews) Update(ctx context.Context, r reviews.Review) error {
	res, err := s.C.UpdateOne(ctx, bson.M{"_id": r.ID}, bson.M{"$set": bson.M{
		"rating":     r.Rating,
		"title":      r.Title,
		"comment":    r.Comment,
		"isVerified": r.IsVerified,
		"isApproved": r.IsApproved,
		"updatedAt":  r.UpdatedAt,
	}})
	if err != nil {
		return fmt.Errorf("update review %s: %w", r.ID, err)
	}
	if res.MatchedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Reviews) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := s.C.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("delete review %s: %w", id, err)
	}
	if res.DeletedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Reviews) list(ctx context.Context, filter bson.M, sort bson.D, limit, offset int) ([]reviews.Review, int, error) {
	total, err := s.C.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("count reviews: %w", err)
	}
	cur, err := s.C.Find(ctx, filter, findPage(limit, offset).SetSort(sort))
	if err != nil {
		return nil, 0, fmt.Errorf("list reviews: %w", err)
	}
	out, err := decodeAll[reviews.Review](ctx, cur)
	return out, int(total), err
}

func (s *Reviews) ListByProduct(ctx context.Context, q reviews.ListQuery) ([]reviews.Review, int, error) {
	filter := bson.M{"productId": q.ProductID}
	if q.ApprovedOnly {
		filter["isApproved"] = true
	}
	sort, ok := reviewSorts[q.Sort]
	if !ok {
		sort = reviewSorts[reviews.SortNewest]
	}
	return s.list(ctx, filter, sort, q.Limit, q.Offset)
}

func (s *Reviews) ListByUser(ctx context.Context, userID string, limit, offset int) ([]reviews.Review, int, error) {
	return s.list(ctx, bson.M{"userId": userID}, reviewSorts[reviews.SortNewest], limit, offset)
}

func (s *Reviews) ApprovedStats(ctx context.Context, productID string) (reviews.Stats, error) {
	cur, err := s.C.Aggregate(ctx, mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"productId": productID, "isApproved": true}}},
		{{Key: "$group", Value: bson.M{"_id": "$rating", "n": bson.M{"$sum": 1}}}},
	})
	if err != nil {
		return reviews.Stats{}, fmt.Errorf("review stats: %w", err)
	}
	var groups []struct {
		Rating int `bson:"_id"`
		N      int `bson:"n"`
	}
	if err := cur.All(ctx, &groups); err != nil {
		return reviews.Stats{}, err
	}
	sum := 0
	dist := map[int]int{}
	for _, g := range groups {
		dist[g.Rating] = g.N
		sum += g.Rating * g.N
	}
	return reviews.NewStats(sum, dist), nil
}

func (s *Reviews) AllProductIDs(ctx context.Context) ([]string, error) {
	raw, err := s.C.Distinct(ctx, "productId", bson.M{})
	if err != nil {
		return nil, fmt.Errorf("reviewed products: %w", err)
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if id, ok := v.(string); ok {
			out = append(out, id)
		}
	}
	return out, nil
}

func (s *Reviews) MarkHelpful(ctx context.Context, id uuid.UUID, userID string) (reviews.Review, bool, error) {
	return s.guardedUpdate(ctx, id,
		bson.M{"_id": id, "helpfulUsers": bson.M{"$ne": userID}},
		bson.M{"$push": bson.M{"helpfulUsers": userID}, "$inc": bson.M{"helpfulCount": 1}})
}

func (s *Reviews) AddReport(ctx context.Context, id uuid.UUID, rep reviews.Report) (reviews.Review, bool, error) {
	return s.guardedUpdate(ctx, id,
		bson.M{"_id": id, "reports.userId": bson.M{"$ne": rep.UserID}},
		bson.M{"$push": bson.M{"reports": rep}, "$inc": bson.M{"reportCount": 1}})
}

func (s *Reviews) guardedUpdate(ctx context.Context, id uuid.UUID, filter, update bson.M) (reviews.Review, bool, error) {
	var r reviews.Review
	err := s.C.FindOneAndUpdate(ctx, filter, update,
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&r)
	if err == nil {
		return r, true, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return reviews.Review{}, false, err
	}
	current, err := s.Get(ctx, id)
	if err != nil {
		return reviews.Review{}, false, err
	}
	return current, false, nil
}

// Events appends domain events.
type Events struct {
	C *mongo.Collection
}

func (s *Events) InsertEvent(ctx context.Context, ev events.Event) error {
	if _, err := s.C.InsertOne(ctx, ev); err != nil {
		return fmt.Errorf("insert event %s: %w", ev.Topic, mapError(err))
	}
	return nil
}
