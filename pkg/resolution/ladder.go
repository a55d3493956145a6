package resolution

// Dimensions é um degrau da escada de resoluções.
type Dimensions struct {
	Width  int
	Height int
}

// DefaultLadder retorna a escada padrão de cinco níveis, do nível de
// emergência (0) até a qualidade plena (4). A escada é sempre passada
// explicitamente ao controlador; não existe tabela global escondida.
func DefaultLadder() []Dimensions {
	return []Dimensions{
		{320, 240},  // Nível 0: emergência
		{480, 360},  // Nível 1: baixa
		{640, 480},  // Nível 2: média
		{800, 600},  // Nível 3: alta
		{1024, 768}, // Nível 4: plena
	}
}
