package domain

import "fmt"

// ProductUpdater — рабочее представление остатков одного товара на время
// одной операции. Конструируется из хранилища, мутируется в памяти и
// сохраняется целиком через transaction manager; при ошибке просто
// отбрасывается, и хранилище не видит никаких промежуточных изменений.
type ProductUpdater struct {
	ProductID      string
	UnitPriceMinor int64
	// Stock: variantID → размер → остаток.
	Stock map[string]map[string]int32
	// Version нужен для optimistic locking на границе хранилища:
	// конкурентное изменение остатков того же товара обязано сериализоваться.
	Version int64
}

// NewProductUpdater создаёт updater с пустой картой остатков.
func NewProductUpdater(productID string, unitPriceMinor int64, version int64) *ProductUpdater {
	return &ProductUpdater{
		ProductID:      productID,
		UnitPriceMinor: unitPriceMinor,
		Stock:          make(map[string]map[string]int32),
		Version:        version,
	}
}

// SetStock задаёт остаток размера (используется при загрузке из хранилища и в тестах).
func (p *ProductUpdater) SetStock(variantID, size string, qty int32) {
	if p.Stock == nil {
		p.Stock = make(map[string]map[string]int32)
	}
	sizes, ok := p.Stock[variantID]
	if !ok {
		sizes = make(map[string]int32)
		p.Stock[variantID] = sizes
	}
	sizes[size] = qty
}

// HasVariant сообщает, есть ли у товара такой вариант.
func (p *ProductUpdater) HasVariant(variantID string) bool {
	_, ok := p.Stock[variantID]
	return ok
}

// HasSizeForVariant сообщает, доступен ли размер у варианта.
func (p *ProductUpdater) HasSizeForVariant(variantID, size string) bool {
	sizes, ok := p.Stock[variantID]
	if !ok {
		return false
	}
	_, ok = sizes[size]
	return ok
}

// HasEnoughStock проверяет, хватает ли остатка размера на запрошенное количество.
func (p *ProductUpdater) HasEnoughStock(variantID, size string, qty int32) bool {
	sizes, ok := p.Stock[variantID]
	if !ok {
		return false
	}
	stock, ok := sizes[size]
	if !ok {
		return false
	}
	return stock >= qty
}

// StockFor возвращает текущий остаток размера (0, если размер не найден).
func (p *ProductUpdater) StockFor(variantID, size string) int32 {
	return p.Stock[variantID][size]
}

// SubtractStock уменьшает остаток размера. Неизвестный вариант или размер,
// а также уход остатка в минус — ошибка, остатки не изменяются.
func (p *ProductUpdater) SubtractStock(variantID, size string, qty int32) error {
	if qty <= 0 {
		return fmt.Errorf("%w: product %s variant %s size %s", ErrInvalidQuantity, p.ProductID, variantID, size)
	}
	sizes, ok := p.Stock[variantID]
	if !ok {
		return fmt.Errorf("%w: product %s variant %s", ErrInvalidVariant, p.ProductID, variantID)
	}
	stock, ok := sizes[size]
	if !ok {
		return fmt.Errorf("%w: product %s variant %s size %s", ErrSizeNotAvailable, p.ProductID, variantID, size)
	}
	if stock < qty {
		return fmt.Errorf("%w: product %s variant %s size %s (have %d, want %d)",
			ErrNotEnoughStock, p.ProductID, variantID, size, stock, qty)
	}
	sizes[size] = stock - qty
	return nil
}

// AddStock возвращает количество на остаток размера (компенсация резерва).
func (p *ProductUpdater) AddStock(variantID, size string, qty int32) error {
	if qty <= 0 {
		return fmt.Errorf("%w: product %s variant %s size %s", ErrInvalidQuantity, p.ProductID, variantID, size)
	}
	sizes, ok := p.Stock[variantID]
	if !ok {
		return fmt.Errorf("%w: product %s variant %s", ErrInvalidVariant, p.ProductID, variantID)
	}
	stock, ok := sizes[size]
	if !ok {
		return fmt.Errorf("%w: product %s variant %s size %s", ErrSizeNotAvailable, p.ProductID, variantID, size)
	}
	sizes[size] = stock + qty
	return nil
}

// Clone возвращает глубокую копию updater-а (используется snapshot-механикой
// in-memory хранилища).
func (p *ProductUpdater) Clone() *ProductUpdater {
	clone := NewProductUpdater(p.ProductID, p.UnitPriceMinor, p.Version)
	for variantID, sizes := range p.Stock {
		for size, qty := range sizes {
			clone.SetStock(variantID, size, qty)
		}
	}
	return clone
}
