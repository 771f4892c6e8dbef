// Package payment реализует платёжные процессоры и состояние платежа.
package payment

import (
	"context"
	"math/rand"

	"github.com/google/uuid"

	"github.com/mmeshcher/cafeteria-system/internal/money"
)

// Method — явный тег способа оплаты, задаётся при регистрации процессора.
// Диспетчеризация идёт по тегу, а не по конкретному типу процессора.
type Method string

const (
	MethodCash   Method = "CASH"
	MethodCard   Method = "CARD"
	MethodWallet Method = "WALLET"
)

// ParseMethod преобразует строку в способ оплаты.
func ParseMethod(s string) (Method, bool) {
	switch Method(s) {
	case MethodCash, MethodCard, MethodWallet:
		return Method(s), true
	default:
		return "", false
	}
}

// Result — итог обращения к платёжному шлюзу. Значение, не сущность.
type Result struct {
	Success   bool
	Reference string
}

// Processor описывает способность обработать платёж.
// Бизнес-отказ выражается значением false, а не ошибкой.
type Processor interface {
	Method() Method
	ProcessPayment(ctx context.Context, amount money.Money) bool
}

// RandSource выдаёт число в [0, 1) для имитации нестабильности шлюза.
// Подменяется в тестах фиксированной функцией.
type RandSource func() float64

// CashProcessor принимает наличные: любой положительный платёж успешен.
type CashProcessor struct{}

func (CashProcessor) Method() Method { return MethodCash }

func (CashProcessor) ProcessPayment(_ context.Context, amount money.Money) bool {
	return amount.IsPositive()
}

// CardProcessor имитирует эквайринг с заданной долей успешных платежей.
// Если настроен терминал, решение принимает внешний терминал.
type CardProcessor struct {
	successRate float64
	randSource  RandSource
	terminal    *TerminalClient
}

// NewCardProcessor создаёт карточный процессор. Нулевой randSource заменяется
// на math/rand, nil terminal означает локальную имитацию.
func NewCardProcessor(successRate float64, randSource RandSource, terminal *TerminalClient) *CardProcessor {
	if randSource == nil {
		randSource = rand.Float64
	}
	return &CardProcessor{successRate: successRate, randSource: randSource, terminal: terminal}
}

func (p *CardProcessor) Method() Method { return MethodCard }

func (p *CardProcessor) ProcessPayment(ctx context.Context, amount money.Money) bool {
	if !amount.IsPositive() {
		return false
	}
	if p.terminal != nil {
		approved, err := p.terminal.Charge(ctx, amount)
		if err != nil {
			return false
		}
		return approved
	}
	return p.randSource() < p.successRate
}

// WalletProcessor имитирует мобильный кошелёк, та же схема с другой вероятностью.
type WalletProcessor struct {
	successRate float64
	randSource  RandSource
}

// NewWalletProcessor создаёт процессор мобильного кошелька.
func NewWalletProcessor(successRate float64, randSource RandSource) *WalletProcessor {
	if randSource == nil {
		randSource = rand.Float64
	}
	return &WalletProcessor{successRate: successRate, randSource: randSource}
}

func (p *WalletProcessor) Method() Method { return MethodWallet }

func (p *WalletProcessor) ProcessPayment(_ context.Context, amount money.Money) bool {
	if !amount.IsPositive() {
		return false
	}
	return p.randSource() < p.successRate
}

// NamedProcessor — простой сквозной процессор для расширения новыми способами
// оплаты: положительный платёж всегда успешен.
type NamedProcessor struct {
	method Method
}

// NewNamedProcessor создаёт сквозной процессор с указанным тегом.
func NewNamedProcessor(method Method) *NamedProcessor {
	return &NamedProcessor{method: method}
}

func (p *NamedProcessor) Method() Method { return p.method }

func (p *NamedProcessor) ProcessPayment(_ context.Context, amount money.Money) bool {
	return amount.IsPositive()
}

// Gateway маршрутизирует платежи по тегу способа оплаты.
type Gateway struct {
	processors map[Method]Processor
}

// NewGateway регистрирует процессоры по их тегам.
func NewGateway(processors ...Processor) *Gateway {
	byMethod := make(map[Method]Processor, len(processors))
	for _, p := range processors {
		byMethod[p.Method()] = p
	}
	return &Gateway{processors: byMethod}
}

// Process проводит платёж выбранным способом. Неизвестный способ и
// неположительная сумма дают отказ, а не ошибку.
func (g *Gateway) Process(ctx context.Context, method Method, amount money.Money) Result {
	p, ok := g.processors[method]
	if !ok {
		return Result{}
	}
	if !p.ProcessPayment(ctx, amount) {
		return Result{}
	}
	return Result{Success: true, Reference: uuid.NewString()}
}
