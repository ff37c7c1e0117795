package shopify

const productsQuery = `
query getProducts($cursor: String, $pageSize: Int!) {
  products(first: $pageSize, after: $cursor) {
    edges {
      node {
        id
        title
        handle
        description
        productType
        vendor
        status
        totalInventory
        createdAt
        updatedAt
        category { name fullName }
        collections(first: 10) { edges { node { title handle } } }
        tags
        featuredMedia { preview { image { url } } }
        options { name values }
        priceRangeV2 {
          minVariantPrice { amount currencyCode }
          maxVariantPrice { amount currencyCode }
        }
        metafields(first: 10) {
          edges { node { namespace key value type } }
          pageInfo { hasNextPage }
        }
        variants(first: 20) {
          pageInfo { hasNextPage }
          edges {
            node {
              id
              title
              sku
              inventoryQuantity
              price
              selectedOptions { name value }
            }
          }
        }
      }
    }
    pageInfo { hasNextPage endCursor }
  }
}`

const ordersQuery = `
query getOrders($cursor: String, $pageSize: Int!, $query: String) {
  orders(first: $pageSize, after: $cursor, query: $query) {
    edges {
      node {
        id
        name
        createdAt
        note
        tags
        customer { id displayName email phone tags }
        currentTotalPriceSet { presentmentMoney { amount currencyCode } }
        lineItems(first: 100) {
          edges {
            node {
              title
              quantity
              originalTotalSet { presentmentMoney { amount currencyCode } }
            }
          }
        }
      }
    }
    pageInfo { hasNextPage endCursor }
  }
}`

const policiesQuery = `
query getPolicies {
  shop {
    shopPolicies { title body type url }
  }
}`
