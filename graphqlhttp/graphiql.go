package graphqlhttp

// graphiqlPage is the in-browser IDE served on GET requests from clients
// that accept HTML. Assets load from the unpkg CDN.
var graphiqlPage = []byte(`<!DOCTYPE html>
<html>
<head>
  <title>GraphiQL</title>
  <style>html, body, #graphiql { height: 100%; margin: 0; overflow: hidden; }</style>
  <link rel="stylesheet" href="https://unpkg.com/graphiql/graphiql.min.css" />
</head>
<body>
  <div id="graphiql">Loading GraphiQL...</div>
  <script crossorigin src="https://unpkg.com/react/umd/react.production.min.js"></script>
  <script crossorigin src="https://unpkg.com/react-dom/umd/react-dom.production.min.js"></script>
  <script crossorigin src="https://unpkg.com/graphiql/graphiql.min.js"></script>
  <script>
    var fetcher = GraphiQL.createFetcher({ url: window.location.pathname });
    ReactDOM.render(
      React.createElement(GraphiQL, { fetcher: fetcher }),
      document.getElementById('graphiql')
    );
  </script>
</body>
</html>
`)
