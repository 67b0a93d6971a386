package durablemap // import "go.mercari.io/durablemap"

/*
Package durablemap は、実体を外部の永続ストアに持ちつつ、読み取りをプロセス内キャッシュから応答する辞書を提供します。

このパッケージが解決するのは、独立した複数プロセス間でのキャッシュの一貫性です。
同じ論理辞書のインスタンスが多数のプロセスやホストで動作し、1つの永続キースペースを共有します。
各インスタンスは自身のメモリから読み取りに応答し、安価な鮮度マーカーによってそのメモリが古くなったことを検知します。
読み取りのコストは最大でも小さなラウンドトリップ1回であり、実際に古くなったキャッシュだけが全体の再読込を支払います。


基本的な使い方

いずれかのバックエンドパッケージで Backend を作り、その上に Map を構築します。
Map は構築時に一度同期を行い、すぐに利用できる状態になります。

	pool := &redis.Pool{Dial: func() (redis.Conn, error) {
		return redis.Dial("tcp", "localhost:6379")
	}}
	backend := redisstore.New(pool, "features")

	m, err := durablemap.New[string](ctx, backend,
		durablemap.WithEncoding[string](durablemap.StringEncoding{}),
	)


鮮度マーカーのプロトコル

永続キースペースへのすべての変更は、バックエンドが安価に報告できるマーカーを動かします。
典型的には書き込みと同時にインクリメントされるカウンタです。
Map は最後の再読込時に見たマーカーを記憶しています。
現在のマーカーが記憶した値と等しければキャッシュは確実に最新であり、読み取りはマーカー取得以外のコストを払いません。
異なっていれば、キースペース全体を列挙してデコードし、キャッシュを一括で置き換えます。
したがってキャッシュは常に完全なスナップショットであり、部分的な状態にはなりません。

デフォルトの autosync ポリシーでは、すべての読み取りがまずこの確認を行います。
WithAutosync(false) を指定して構築すると、読み取りは無条件にキャッシュから応答します。
その場合の鮮度は、アプリケーションが Sync を呼ぶ頻度（例えばリクエストごとに1回）によって決まります。


サポートされるバックエンド

各バックエンドパッケージが1つの Backend 実装を提供します。
一覧は https://godoc.org/go.mercari.io/durablemap のドキュメントを参照してください。

バックエンドは追加で Taker と Ensurer を実装する場合があります。
Map.Pop と Map.SetDefault はこれらを使い、削除しつつ読む操作と、無ければ書く操作を、2回の呼び出しではなく原子的に解決します。


一貫性に関する注意

書き込みは last-writer-wins です。
キーをまたぐトランザクションも compare-and-swap もありません。
2つのプロセスが同じキーへ同時に書き込んだ場合、ストアへ最後に到達した書き込みが残ります。
本パッケージは、設定フラグやフィーチャースイッチのような、読み取りが支配的で変更が稀なキースペースのために作られています。

再読込中のデコード失敗は再読込全体を中断し、以前のキャッシュを保持します。
スナップショットの半分だけを適用すると、キャッシュが内部的に一貫しない状態になるためです。
エラーには破損したすべてのエントリが報告されます。
*/
