// Package category implements transaction categorization: a fixed taxonomy,
// a keyword rule matcher and a layered engine that consults learned merchant
// aliases and an LLM classifier.
package category

// Category group names. This is the fixed enumeration every categorization
// result must come from.
const (
	Debt         = "debt"
	Essential    = "essential"
	Investment   = "investment"
	NonEssential = "non_essential"
	Transfer     = "transfer"
	Other        = "other"
)

// SubcategoryUncategorized is the terminal subcategory under Other.
const SubcategoryUncategorized = "uncategorized"

// SubcategoryP2P marks person-to-person transfers.
const SubcategoryP2P = "p2p"

// Subcategory is a named subdivision of a category with the keyword list the
// rule matcher scans, and the default fixed-cost judgment for rule hits.
type Subcategory struct {
	Name      string
	Keywords  []string
	FixedCost bool
}

// Definition is one category group with its subcategories.
type Definition struct {
	Name          string
	Subcategories []Subcategory
}

// Taxonomy is the full category tree in rule-matcher priority order: debts
// before essentials before investments before non-essentials before
// transfers before other. Static configuration, never mutated at runtime.
var Taxonomy = []Definition{
	{
		Name: Debt,
		Subcategories: []Subcategory{
			{Name: "credit_card_bill", Keywords: []string{"fatura cartão", "fatura cartao", "pagamento fatura", "pagto fatura"}},
			{Name: "loan", Keywords: []string{"empréstimo", "emprestimo", "financiamento", "consórcio", "consorcio", "parcela"}, FixedCost: true},
			{Name: "interest_fees", Keywords: []string{"juros", "cheque especial", "iof", "anuidade", "tarifa"}},
		},
	},
	{
		Name: Essential,
		Subcategories: []Subcategory{
			{Name: "groceries", Keywords: []string{"mercado", "supermercado", "padaria", "açougue", "acougue", "hortifruti", "sacolão", "sacolao", "atacadão", "atacadao"}},
			{Name: "housing", Keywords: []string{"aluguel", "condomínio", "condominio", "imobiliária", "imobiliaria"}, FixedCost: true},
			{Name: "utilities", Keywords: []string{"energia", "enel", "sabesp", "saneamento", "internet", "vivo fibra", "claro", "gás", "gas natural"}, FixedCost: true},
			{Name: "transport", Keywords: []string{"uber", "99app", "combustível", "combustivel", "posto", "ipiranga", "metrô", "metro", "ônibus", "onibus", "bilhete único", "estacionamento", "pedágio", "pedagio"}},
			{Name: "health", Keywords: []string{"farmácia", "farmacia", "drogaria", "drogasil", "unimed", "laboratório", "laboratorio", "hospital", "plano de saúde", "plano de saude"}},
			{Name: "education", Keywords: []string{"escola", "faculdade", "universidade", "mensalidade", "curso"}, FixedCost: true},
		},
	},
	{
		Name: Investment,
		Subcategories: []Subcategory{
			{Name: "brokerage", Keywords: []string{"corretora", "xp investimentos", "nuinvest", "b3 "}},
			{Name: "fixed_income", Keywords: []string{"tesouro direto", "tesouro", "cdb", "lci", "lca", "poupança", "poupanca", "aplicação", "aplicacao"}},
			{Name: "crypto", Keywords: []string{"bitcoin", "binance", "mercado bitcoin", "cripto"}},
		},
	},
	{
		Name: NonEssential,
		Subcategories: []Subcategory{
			{Name: "dining_out", Keywords: []string{"ifood", "restaurante", "lanchonete", "pizzaria", "hamburgueria", "churrascaria", "cafeteria"}},
			{Name: "subscriptions", Keywords: []string{"netflix", "spotify", "amazon prime", "disney", "globoplay", "youtube premium", "assinatura"}, FixedCost: true},
			{Name: "shopping", Keywords: []string{"shopee", "amazon", "mercado livre", "mercadolivre", "magazine luiza", "magalu", "americanas", "aliexpress", "shein"}},
			{Name: "entertainment", Keywords: []string{"cinema", "ingresso", "teatro", "steam", "playstation", "xbox"}},
			{Name: "travel", Keywords: []string{"hotel", "airbnb", "passagem", "latam", "booking"}},
			{Name: "personal_care", Keywords: []string{"salão", "salao", "barbearia", "academia", "smart fit"}},
		},
	},
	{
		Name: Transfer,
		Subcategories: []Subcategory{
			{Name: SubcategoryP2P, Keywords: []string{"pix enviado", "pix recebido"}},
			{Name: "between_accounts", Keywords: []string{"transferência", "transferencia", "ted ", "doc ", "resgate"}},
		},
	},
	{
		Name: Other,
		Subcategories: []Subcategory{
			{Name: SubcategoryUncategorized},
		},
	},
}

// Categories returns the category enumeration in priority order.
func Categories() []string {
	names := make([]string, 0, len(Taxonomy))
	for _, def := range Taxonomy {
		names = append(names, def.Name)
	}
	return names
}

// ValidCategory reports whether name is part of the fixed enumeration.
func ValidCategory(name string) bool {
	for _, def := range Taxonomy {
		if def.Name == name {
			return true
		}
	}
	return false
}

// ValidSubcategory reports whether sub belongs to the given category.
func ValidSubcategory(cat, sub string) bool {
	for _, def := range Taxonomy {
		if def.Name != cat {
			continue
		}
		for _, s := range def.Subcategories {
			if s.Name == sub {
				return true
			}
		}
	}
	return false
}

// SubcategoryNames returns the subcategory names for one category.
func SubcategoryNames(cat string) []string {
	for _, def := range Taxonomy {
		if def.Name != cat {
			continue
		}
		names := make([]string, 0, len(def.Subcategories))
		for _, s := range def.Subcategories {
			names = append(names, s.Name)
		}
		return names
	}
	return nil
}
