package risk

import "tradeguard/pkg/utils"

// минимальное число цен, при котором актив участвует в метриках
const minSamples = 3

// Exposure - доля актива в портфеле и история его цены (от старых к новым)
type Exposure struct {
	Symbol string
	Weight float64
	Prices []float64
}

// VolatilityMetric - волатильность портфеля
type VolatilityMetric interface {
	Volatility(exposures []Exposure) float64
}

// CorrelationMetric - средняя корреляция активов портфеля
type CorrelationMetric interface {
	Correlation(exposures []Exposure) float64
}

// WeightedVolatility - взвешенное по стоимости стандартное отклонение
// логарифмических доходностей каждого актива. Активы с историей короче
// minSamples цен дают 0.
type WeightedVolatility struct{}

func (WeightedVolatility) Volatility(exposures []Exposure) float64 {
	var vol float64
	for _, x := range exposures {
		if len(x.Prices) < minSamples {
			continue
		}
		vol += x.Weight * utils.StdDev(utils.LogReturns(x.Prices))
	}
	return vol
}

// WeightedCorrelation - средняя попарная корреляция Пирсона рядов доходностей
// с весом w_i * w_j. Без пар с достаточной историей - 0.
type WeightedCorrelation struct{}

func (WeightedCorrelation) Correlation(exposures []Exposure) float64 {
	type series struct {
		weight  float64
		returns []float64
	}
	var usable []series
	for _, x := range exposures {
		if len(x.Prices) < minSamples {
			continue
		}
		usable = append(usable, series{weight: x.Weight, returns: utils.LogReturns(x.Prices)})
	}

	var corr, weights []float64
	for i := 0; i < len(usable); i++ {
		for j := i + 1; j < len(usable); j++ {
			corr = append(corr, utils.Pearson(usable[i].returns, usable[j].returns))
			weights = append(weights, usable[i].weight*usable[j].weight)
		}
	}
	return utils.CalculateWeightedAverage(corr, weights)
}
