package firestore

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/rede-afiliados/api/internal/domain"
	pfirestore "github.com/rede-afiliados/api/internal/platform/firestore"
	"github.com/rede-afiliados/api/internal/repositories"
)

// ProductRepository persists marketplace products.
type ProductRepository struct {
	provider *pfirestore.Provider
}

// NewProductRepository constructs a Firestore-backed product repository.
func NewProductRepository(provider *pfirestore.Provider) (*ProductRepository, error) {
	if provider == nil {
		return nil, errors.New("product repository requires firestore provider")
	}
	return &ProductRepository{provider: provider}, nil
}

func (r *ProductRepository) collection(ctx context.Context) (*firestore.CollectionRef, error) {
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(productsCollection), nil
}

func (r *ProductRepository) Insert(ctx context.Context, product domain.Product) error {
	coll, err := r.collection(ctx)
	if err != nil {
		return err
	}
	if _, err := coll.Doc(product.ID).Create(ctx, fromDomainProduct(product)); err != nil {
		wrapped := pfirestore.WrapError("products.insert", err)
		if repositories.IsConflict(wrapped) {
			return repositories.NewConflictError("products.insert", "product %s exists", product.ID)
		}
		return wrapped
	}
	return nil
}

func (r *ProductRepository) Update(ctx context.Context, product domain.Product) error {
	coll, err := r.collection(ctx)
	if err != nil {
		return err
	}
	ref := coll.Doc(product.ID)
	if _, err := ref.Get(ctx); err != nil {
		return notFound(err, "products.update", "product %s", product.ID)
	}
	if _, err := ref.Set(ctx, fromDomainProduct(product)); err != nil {
		return pfirestore.WrapError("products.update", err)
	}
	return nil
}

func (r *ProductRepository) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	coll, err := r.collection(ctx)
	if err != nil {
		return domain.Product{}, err
	}
	snap, err := coll.Doc(productID).Get(ctx)
	if err != nil {
		return domain.Product{}, notFound(err, "products.find", "product %s", productID)
	}
	return decodeProduct(snap)
}

func (r *ProductRepository) List(ctx context.Context, filter repositories.ProductListFilter) (domain.CursorPage[domain.Product], error) {
	coll, err := r.collection(ctx)
	if err != nil {
		return domain.CursorPage[domain.Product]{}, err
	}
	query := coll.Query
	if filter.Status != nil {
		query = query.Where("status", "==", string(*filter.Status))
	}
	if filter.OwnerID != "" {
		query = query.Where("ownerId", "==", filter.OwnerID)
	}
	return pageNewestFirst(ctx, "products.list", query, filter.Pagination, func(snap *firestore.DocumentSnapshot) (domain.Product, time.Time, error) {
		product, err := decodeProduct(snap)
		return product, product.CreatedAt, err
	})
}

func (r *ProductRepository) CountByOwner(ctx context.Context, ownerID string) (int, error) {
	coll, err := r.collection(ctx)
	if err != nil {
		return 0, err
	}
	return count(ctx, "products.count_by_owner", coll.Where("ownerId", "==", ownerID))
}

func (r *ProductRepository) Delete(ctx context.Context, productID string) error {
	coll, err := r.collection(ctx)
	if err != nil {
		return err
	}
	if _, err := coll.Doc(productID).Delete(ctx, firestore.Exists); err != nil {
		return notFound(err, "products.delete", "product %s", productID)
	}
	return nil
}

func decodeProduct(snap *firestore.DocumentSnapshot) (domain.Product, error) {
	var doc productDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.Product{}, err
	}
	return doc.toDomain(snap.Ref.ID), nil
}

// MaterialRepository persists the material price list through the generic base repository.
type MaterialRepository struct {
	base *pfirestore.BaseRepository[materialDocument]
}

// NewMaterialRepository constructs a Firestore-backed material repository.
func NewMaterialRepository(provider *pfirestore.Provider) (*MaterialRepository, error) {
	if provider == nil {
		return nil, errors.New("material repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository(provider, materialsCollection,
		pfirestore.IdentityEncoder[materialDocument](),
		pfirestore.StructDecoder[materialDocument]())
	return &MaterialRepository{base: base}, nil
}

func (r *MaterialRepository) Insert(ctx context.Context, material domain.Material) error {
	ref, err := r.base.DocumentRef(ctx, material.ID)
	if err != nil {
		return err
	}
	if _, err := ref.Create(ctx, fromDomainMaterial(material)); err != nil {
		wrapped := pfirestore.WrapError("materials.insert", err)
		if repositories.IsConflict(wrapped) {
			return repositories.NewConflictError("materials.insert", "material %s exists", material.ID)
		}
		return wrapped
	}
	return nil
}

func (r *MaterialRepository) Update(ctx context.Context, material domain.Material) error {
	doc := fromDomainMaterial(material)
	_, err := r.base.Update(ctx, material.ID, []firestore.Update{
		{Path: "name", Value: doc.Name},
		{Path: "pricePerM2", Value: doc.PricePerM2},
		{Path: "updatedAt", Value: doc.UpdatedAt},
	}, firestore.Exists)
	if err != nil {
		return notFound(err, "materials.update", "material %s", material.ID)
	}
	return nil
}

func (r *MaterialRepository) Delete(ctx context.Context, materialID string) error {
	ref, err := r.base.DocumentRef(ctx, materialID)
	if err != nil {
		return err
	}
	if _, err := ref.Delete(ctx, firestore.Exists); err != nil {
		return notFound(err, "materials.delete", "material %s", materialID)
	}
	return nil
}

func (r *MaterialRepository) FindByID(ctx context.Context, materialID string) (domain.Material, error) {
	doc, err := r.base.Get(ctx, materialID)
	if err != nil {
		return domain.Material{}, notFound(err, "materials.find", "material %s", materialID)
	}
	return doc.Data.toDomain(doc.ID), nil
}

func (r *MaterialRepository) List(ctx context.Context) ([]domain.Material, error) {
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.OrderBy("name", firestore.Asc)
	})
	if err != nil {
		return nil, err
	}
	out := make([]domain.Material, 0, len(docs))
	for _, doc := range docs {
		out = append(out, doc.Data.toDomain(doc.ID))
	}
	return out, nil
}

func fromDomainMaterial(m domain.Material) materialDocument {
	return materialDocument{
		Name:       m.Name,
		PricePerM2: m.PricePerM2,
		CreatedAt:  m.CreatedAt.UTC(),
		UpdatedAt:  m.UpdatedAt.UTC(),
	}
}

func (d materialDocument) toDomain(id string) domain.Material {
	return domain.Material{
		ID:         id,
		Name:       d.Name,
		PricePerM2: d.PricePerM2,
		CreatedAt:  d.CreatedAt,
		UpdatedAt:  d.UpdatedAt,
	}
}
