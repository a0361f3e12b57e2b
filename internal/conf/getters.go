package conf

import "time"

const (
	DefaultRebuildInterval = 60 * time.Second
	DefaultRefreshInterval = 30 * time.Second
	DefaultStaleAfter      = 65 * time.Second
	DefaultBuildBatchSize  = 100
	DefaultPolicyCacheTTL  = 30 * time.Second
)

func (x *Bootstrap) GetData() *Data {
	if x != nil {
		return x.Data
	}
	return nil
}

func (x *Bootstrap) GetIndex() *Index {
	if x != nil {
		return x.Index
	}
	return nil
}

func (x *Bootstrap) GetMatch() *Match {
	if x != nil {
		return x.Match
	}
	return nil
}

func (x *Bootstrap) GetLog() *Log {
	if x != nil {
		return x.Log
	}
	return nil
}

// GetSignalTypes never returns nil.
func (x *Bootstrap) GetSignalTypes() map[string]*SignalType {
	if x != nil && x.SignalTypes != nil {
		return x.SignalTypes
	}
	return map[string]*SignalType{}
}

func (x *Data) GetDatabase() *Data_Database {
	if x != nil {
		return x.Database
	}
	return nil
}

func (x *Data) GetRedis() *Data_Redis {
	if x != nil {
		return x.Redis
	}
	return nil
}

func (x *Data) GetS3() *Data_S3 {
	if x != nil {
		return x.S3
	}
	return nil
}

func (x *Data) GetBankStoreDriver() string {
	if x != nil && x.BankStore != nil && x.BankStore.Driver != "" {
		return x.BankStore.Driver
	}
	return "memory"
}

func (x *Data) GetIndexStore() *Data_IndexStore {
	if x != nil && x.IndexStore != nil {
		return x.IndexStore
	}
	return &Data_IndexStore{}
}

func (x *Data_IndexStore) GetDriver() string {
	if x != nil && x.Driver != "" {
		return x.Driver
	}
	return "memory"
}

func (x *Data_IndexStore) GetKeyPrefix() string {
	if x != nil && x.KeyPrefix != "" {
		return x.KeyPrefix
	}
	return "hashmatch:index"
}

func (x *Index) GetRebuildInterval() time.Duration {
	if x != nil && x.RebuildInterval.AsDuration() > 0 {
		return x.RebuildInterval.AsDuration()
	}
	return DefaultRebuildInterval
}

func (x *Index) GetRefreshInterval() time.Duration {
	if x != nil && x.RefreshInterval.AsDuration() > 0 {
		return x.RefreshInterval.AsDuration()
	}
	return DefaultRefreshInterval
}

func (x *Index) GetStaleAfter() time.Duration {
	if x != nil && x.StaleAfter.AsDuration() > 0 {
		return x.StaleAfter.AsDuration()
	}
	return DefaultStaleAfter
}

func (x *Index) GetBuildBatchSize() int {
	if x != nil && x.BuildBatchSize > 0 {
		return x.BuildBatchSize
	}
	return DefaultBuildBatchSize
}

func (x *Index) GetMihMinEntries() int {
	if x != nil {
		return x.MihMinEntries
	}
	return 0
}

func (x *Match) GetPolicyCacheTtl() time.Duration {
	if x != nil && x.PolicyCacheTtl.AsDuration() > 0 {
		return x.PolicyCacheTtl.AsDuration()
	}
	return DefaultPolicyCacheTTL
}

func (x *Match) GetCoinflipSeed() (uint64, bool) {
	if x != nil && x.CoinflipSeed != nil {
		return *x.CoinflipSeed, true
	}
	return 0, false
}

func (x *Log) GetLevel() string {
	if x != nil && x.Level != "" {
		return x.Level
	}
	return "info"
}

// Thresholds collects similarity_threshold overrides by signal type.
func (x *Bootstrap) Thresholds() map[string]int {
	out := make(map[string]int)
	for name, st := range x.GetSignalTypes() {
		if st != nil && st.SimilarityThreshold != nil {
			out[name] = *st.SimilarityThreshold
		}
	}
	return out
}

// EnabledRatios collects enabled_ratio overrides by signal type.
func (x *Bootstrap) EnabledRatios() map[string]float64 {
	out := make(map[string]float64)
	for name, st := range x.GetSignalTypes() {
		if st != nil && st.EnabledRatio != nil {
			out[name] = *st.EnabledRatio
		}
	}
	return out
}
